package identity

import "time"

// Identity is the public view of a Principal: its canonical id and the
// SPKI DER of its signing key.
type Identity struct {
	PrincipalID  string
	PrincipalPub []byte // SPKI DER
	CreatedAt    time.Time
}

// DerivedKeys holds the Principal signing keypair derived from the
// recovery seed.
type DerivedKeys struct {
	SigningPrivateKey []byte // Ed25519 private key bytes (64)
	SigningPublicKey  []byte // Ed25519 public key bytes (32)
}

// Device is the public view of a per-installation key. Device keypairs
// are generated fresh from the CSPRNG and are never exported.
type Device struct {
	ID        string
	Name      string
	Pub       []byte // SPKI DER
	CreatedAt time.Time
}
