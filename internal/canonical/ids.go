package canonical

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	KeyIDPrefix   = "ed25519:"
	EventIDPrefix = "e:"
)

// IDFromSPKI derives the canonical identifier for a key:
// "ed25519:" + base64url-nopad(sha256(SPKI_DER)).
func IDFromSPKI(spkiDER []byte) string {
	sum := sha256.Sum256(spkiDER)
	return KeyIDPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// IDFromPublicKey wraps a raw key in SPKI DER and derives its identifier.
func IDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := WrapSPKI(pub)
	if err != nil {
		return "", err
	}
	return IDFromSPKI(der), nil
}

// EventID derives "e:" + base64url-nopad(sha256(sigInput)).
func EventID(sigInput []byte) string {
	sum := sha256.Sum256(sigInput)
	return EventIDPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// IsKeyID reports whether s has the shape of a key-derived identifier.
func IsKeyID(s string) bool {
	rest, ok := strings.CutPrefix(s, KeyIDPrefix)
	if !ok || rest == "" {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(rest)
	return err == nil
}

// Fingerprint renders an identifier for humans comparing IDs out loud.
// Display only; never part of a signature input or wire message.
func Fingerprint(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ""
	}
	h := blake2b.Sum256([]byte(trimmed))
	return "vox1" + base58.Encode(h[:8])
}
