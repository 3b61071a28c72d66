package space

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/bits"

	"p2pspace/internal/canonical"
)

var ErrPoWInsufficient = errors.New("proof of work does not meet the required difficulty")

// powDigest hashes the domain prefix, invite id, joiner principal id,
// and nonce with 0x00 separators.
func powDigest(inviteID, joinerPrincipalID string, nonce []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(canonical.DomainPoW))
	h.Write([]byte{'\n'})
	h.Write([]byte(inviteID))
	h.Write([]byte{0})
	h.Write([]byte(joinerPrincipalID))
	h.Write([]byte{0})
	h.Write(nonce)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// CheckPoW verifies that the nonce solves the invite's difficulty and
// that the solution has not outlived its own expiry.
func CheckPoW(inviteID, joinerPrincipalID string, nonce []byte, requiredBits int, expiresTS, now int64) error {
	if requiredBits <= 0 {
		return nil
	}
	if expiresTS > 0 && now > expiresTS {
		return ErrPoWInsufficient
	}
	sum := powDigest(inviteID, joinerPrincipalID, nonce)
	if leadingZeroBits(sum[:]) < requiredBits {
		return ErrPoWInsufficient
	}
	return nil
}

// SolvePoW searches nonces until the digest has the required leading
// zero bits. Difficulty in this protocol stays small, so a linear
// counter search is fine.
func SolvePoW(inviteID, joinerPrincipalID string, requiredBits int) []byte {
	if requiredBits <= 0 {
		return nil
	}
	nonce := make([]byte, 8)
	for counter := uint64(0); ; counter++ {
		binary.BigEndian.PutUint64(nonce, counter)
		sum := powDigest(inviteID, joinerPrincipalID, nonce)
		if leadingZeroBits(sum[:]) >= requiredBits {
			return append([]byte(nil), nonce...)
		}
	}
}

func leadingZeroBits(sum []byte) int {
	total := 0
	for _, b := range sum {
		if b == 0 {
			total += 8
			continue
		}
		total += bits.LeadingZeros8(b)
		break
	}
	return total
}
