package space

import (
	"crypto/ed25519"
	"errors"

	"p2pspace/internal/canonical"
	"p2pspace/internal/identity"
	"p2pspace/pkg/models"
)

var (
	ErrIICIDMismatch = errors.New("invite issuer cert ids do not recompute")
	ErrIICSignature  = errors.New("invite issuer cert signature is invalid")
	ErrIICWindow     = errors.New("invite issuer cert outside its validity window")
)

// IICSigInput builds the canonical signature input for an Invite Issuer
// Certificate.
func IICSigInput(c models.InviteIssuerCert) []byte {
	w := canonical.NewWriter(canonical.DomainInviteIssuer)
	w.WriteInt(int64(c.V))
	w.WriteString(c.SpaceID)
	w.WriteBytes(c.SpaceRootPub)
	w.WriteString(c.IssuerPrincipalID)
	w.WriteBytes(c.IssuerPrincipalPub)
	w.WriteInt(c.NotBeforeTS)
	w.WriteInt(c.ExpiresTS)
	w.WriteCount(len(c.AllowedScopes))
	for _, s := range c.AllowedScopes {
		w.WriteString(s)
	}
	return w.Bytes()
}

// SignIIC signs an IIC with the Space Root key, authorizing another
// Principal to issue invites with the allowed scopes.
func SignIIC(c models.InviteIssuerCert, rootPriv ed25519.PrivateKey) models.InviteIssuerCert {
	c.Sig = ed25519.Sign(rootPriv, IICSigInput(c))
	return c
}

// VerifyIIC checks the certificate chain back to the Space Root key.
// now is milliseconds since epoch; the window tolerates the usual skew.
func VerifyIIC(c models.InviteIssuerCert, now int64) error {
	if canonical.IDFromSPKI(c.SpaceRootPub) != c.SpaceID ||
		canonical.IDFromSPKI(c.IssuerPrincipalPub) != c.IssuerPrincipalID {
		return ErrIICIDMismatch
	}
	rootPub, err := canonical.ParseSPKI(c.SpaceRootPub)
	if err != nil {
		return err
	}
	if !ed25519.Verify(rootPub, IICSigInput(c), c.Sig) {
		return ErrIICSignature
	}
	skew := identity.DelegationSkew.Milliseconds()
	if now < c.NotBeforeTS-skew || now > c.ExpiresTS+skew {
		return ErrIICWindow
	}
	return nil
}
