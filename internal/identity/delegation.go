package identity

import (
	"crypto/ed25519"
	"errors"
	"time"

	"p2pspace/internal/canonical"
	"p2pspace/pkg/models"
)

const (
	// DelegationSkew is the clock tolerance applied to validity windows.
	DelegationSkew = 10 * time.Minute

	delegationTTL      = 30 * 24 * time.Hour
	delegationBackdate = 10 * time.Minute
	delegationReuseMin = time.Minute
)

var (
	ErrDelegationIDMismatch = errors.New("delegation ids do not recompute from public keys")
	ErrDelegationSignature  = errors.New("delegation signature is invalid")
	ErrDelegationWindow     = errors.New("delegation outside its validity window")
)

// DelegationSigInput builds the canonical signature input for a
// delegation certificate.
func DelegationSigInput(cert models.DelegationCert) []byte {
	w := canonical.NewWriter(canonical.DomainDelegation)
	w.WriteInt(int64(cert.V))
	w.WriteString(cert.PrincipalID)
	w.WriteBytes(cert.PrincipalPub)
	w.WriteString(cert.DeviceID)
	w.WriteBytes(cert.DevicePub)
	w.WriteInt(cert.NotBeforeTS)
	w.WriteInt(cert.ExpiresTS)
	w.WriteCount(len(cert.Scopes))
	for _, s := range cert.Scopes {
		w.WriteString(s)
	}
	return w.Bytes()
}

// SignDelegation signs a delegation with the Principal private key.
func SignDelegation(cert models.DelegationCert, principalPriv ed25519.PrivateKey) models.DelegationCert {
	cert.Sig = ed25519.Sign(principalPriv, DelegationSigInput(cert))
	return cert
}

// VerifyDelegation applies the identity-match and signature checks plus
// the validity window with skew. now is milliseconds since epoch.
func VerifyDelegation(cert models.DelegationCert, now int64) error {
	if canonical.IDFromSPKI(cert.PrincipalPub) != cert.PrincipalID ||
		canonical.IDFromSPKI(cert.DevicePub) != cert.DeviceID {
		return ErrDelegationIDMismatch
	}
	principalPub, err := canonical.ParseSPKI(cert.PrincipalPub)
	if err != nil {
		return err
	}
	if _, err := canonical.ParseSPKI(cert.DevicePub); err != nil {
		return err
	}
	if !ed25519.Verify(principalPub, DelegationSigInput(cert), cert.Sig) {
		return ErrDelegationSignature
	}
	skew := DelegationSkew.Milliseconds()
	if now < cert.NotBeforeTS-skew || now > cert.ExpiresTS+skew {
		return ErrDelegationWindow
	}
	return nil
}
