package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const hkdfInfoPrincipal = "p2pspace/identity/principal/v1"

// DeriveKeys expands the BIP-39 seed into the Principal signing keypair.
func DeriveKeys(seedBytes []byte) (*DerivedKeys, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoPrincipal, 32)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)
	pub := priv.Public().(ed25519.PublicKey)
	return &DerivedKeys{
		SigningPrivateKey: priv,
		SigningPublicKey:  pub,
	}, nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
