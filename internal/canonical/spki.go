package canonical

import (
	"bytes"
	"crypto/ed25519"
	"errors"
)

// SPKI DER for Ed25519 is a fixed 12-byte header followed by the raw
// 32-byte public key, 44 bytes total (RFC 8410 SubjectPublicKeyInfo).
var spkiEd25519Prefix = []byte{
	0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00,
}

const SPKISize = 44

var (
	ErrNotEd25519SPKI = errors.New("not an Ed25519 SPKI")
	ErrBadPublicKey   = errors.New("invalid Ed25519 public key")
)

// WrapSPKI encodes a raw Ed25519 public key as SPKI DER.
func WrapSPKI(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrBadPublicKey
	}
	out := make([]byte, 0, SPKISize)
	out = append(out, spkiEd25519Prefix...)
	out = append(out, pub...)
	return out, nil
}

// ParseSPKI extracts the raw Ed25519 public key from SPKI DER.
func ParseSPKI(der []byte) (ed25519.PublicKey, error) {
	if !IsEd25519SPKI(der) {
		return nil, ErrNotEd25519SPKI
	}
	return ed25519.PublicKey(append([]byte(nil), der[len(spkiEd25519Prefix):]...)), nil
}

func IsEd25519SPKI(der []byte) bool {
	return len(der) == SPKISize && bytes.HasPrefix(der, spkiEd25519Prefix)
}
