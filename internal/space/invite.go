package space

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"p2pspace/internal/canonical"
	"p2pspace/internal/identity"
	"p2pspace/pkg/models"
)

var (
	ErrInviteInvalid = errors.New("invite is invalid")
	ErrInviteExpired = errors.New("invite is expired")
	ErrInviteScope   = errors.New("invite scopes exceed issuer authority")
)

// InviteSigInput builds the canonical signature input for an invite.
// Constraints and bootstrap participate via their JCS bytes.
func InviteSigInput(inv models.Invite) ([]byte, error) {
	constraintsJCS, err := canonical.JCSBytes(inv.Constraints)
	if err != nil {
		return nil, err
	}
	bootstrapJCS, err := canonical.JCSBytes(inv.Bootstrap)
	if err != nil {
		return nil, err
	}
	w := canonical.NewWriter(canonical.DomainInvite)
	w.WriteInt(int64(inv.V))
	w.WriteString(inv.SpaceID)
	w.WriteString(inv.InviteID)
	w.WriteInt(inv.IssuedTS)
	w.WriteInt(inv.ExpiresTS)
	w.WriteString(inv.IssuerPrincipalID)
	w.WriteString(inv.IssuerDeviceID)
	w.WriteBytes(inv.IssuerDevicePub)
	w.WriteBytes(inv.IssuerDelegation.Sig)
	if inv.InviteIssuer != nil {
		w.WriteBytes(inv.InviteIssuer.Sig)
	} else {
		w.WriteBytes(nil)
	}
	w.WriteBytes(constraintsJCS)
	w.WriteBytes(bootstrapJCS)
	return w.Bytes(), nil
}

// NewInviteID returns a fresh 128-bit random invite id.
func NewInviteID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueParams configures invite issuance. Scopes always gain the
// space read scope if the caller leaves it out.
type IssueParams struct {
	SpaceID      string
	ExpiresTS    int64
	Scopes       []string
	Constraints  json.RawMessage
	Bootstrap    json.RawMessage
	InviteIssuer *models.InviteIssuerCert
}

// Issue creates and signs an invite with the manager's active device.
// The Space Root issues without an IIC; anyone else must attach one.
func Issue(m *identity.Manager, p IssueParams, nowMS int64) (models.Invite, error) {
	if p.SpaceID == "" {
		return models.Invite{}, fmt.Errorf("%w: missing space_id", ErrInviteInvalid)
	}
	delegation, err := m.EnsureDelegationForSpace(p.SpaceID)
	if err != nil {
		return models.Invite{}, err
	}
	device, err := m.ActiveDevice()
	if err != nil {
		return models.Invite{}, err
	}
	inviteID, err := NewInviteID()
	if err != nil {
		return models.Invite{}, err
	}

	scopes := append([]string(nil), p.Scopes...)
	readScope := models.SpaceScope(p.SpaceID, models.ScopeRead)
	if !models.HasScope(scopes, readScope) {
		scopes = append([]string{readScope}, scopes...)
	}

	inv := models.Invite{
		V:                 1,
		SpaceID:           p.SpaceID,
		InviteID:          inviteID,
		IssuedTS:          nowMS,
		ExpiresTS:         p.ExpiresTS,
		IssuerPrincipalID: m.GetIdentity().PrincipalID,
		IssuerDeviceID:    device.ID,
		IssuerDevicePub:   append([]byte(nil), device.Pub...),
		IssuerDelegation:  delegation,
		InviteIssuer:      p.InviteIssuer,
		Scopes:            scopes,
		Constraints:       p.Constraints,
		Bootstrap:         p.Bootstrap,
	}
	sigInput, err := InviteSigInput(inv)
	if err != nil {
		return models.Invite{}, err
	}
	_, sig, err := m.SignWithActiveDevice(sigInput)
	if err != nil {
		return models.Invite{}, err
	}
	inv.Sig = sig
	return inv, nil
}

// VerifyOptions carries the verifier's view of the Space.
type VerifyOptions struct {
	// SpaceRootPub is the SPKI DER of the Space Root key from genesis,
	// when the verifier has it. Empty means the verifier only checks
	// the self-consistent parts of the chain.
	SpaceRootPub []byte
	Now          int64
}

// VerifyInvite runs the full verification chain: id recomputation,
// delegation match, expiry, issuer authority (Space Root or IIC with a
// scope subset), and the device signature.
func VerifyInvite(inv models.Invite, opts VerifyOptions) error {
	if inv.V != 1 || inv.SpaceID == "" || inv.InviteID == "" {
		return fmt.Errorf("%w: malformed", ErrInviteInvalid)
	}

	// (a) space_id consistency against genesis and the IIC.
	if len(opts.SpaceRootPub) > 0 && canonical.IDFromSPKI(opts.SpaceRootPub) != inv.SpaceID {
		return fmt.Errorf("%w: space_id does not match space root", ErrInviteInvalid)
	}
	if inv.InviteIssuer != nil {
		if inv.InviteIssuer.SpaceID != inv.SpaceID {
			return fmt.Errorf("%w: invite_issuer space mismatch", ErrInviteInvalid)
		}
		if len(opts.SpaceRootPub) > 0 && !bytes.Equal(inv.InviteIssuer.SpaceRootPub, opts.SpaceRootPub) {
			return fmt.Errorf("%w: invite_issuer root key mismatch", ErrInviteInvalid)
		}
	}

	// (b) identities recompute from their public keys.
	if canonical.IDFromSPKI(inv.IssuerDevicePub) != inv.IssuerDeviceID {
		return fmt.Errorf("%w: issuer_device_id mismatch", ErrInviteInvalid)
	}

	// (c) delegation binds the issuer ids, and verifies on its own.
	if inv.IssuerDelegation.DeviceID != inv.IssuerDeviceID ||
		inv.IssuerDelegation.PrincipalID != inv.IssuerPrincipalID {
		return fmt.Errorf("%w: delegation ids do not match issuer", ErrInviteInvalid)
	}
	if err := identity.VerifyDelegation(inv.IssuerDelegation, opts.Now); err != nil {
		return fmt.Errorf("%w: %v", ErrInviteInvalid, err)
	}

	// (d) expiry.
	if opts.Now > inv.ExpiresTS {
		return ErrInviteExpired
	}

	// Scopes must grant at least read access.
	if !models.HasScope(inv.Scopes, models.SpaceScope(inv.SpaceID, models.ScopeRead)) {
		return fmt.Errorf("%w: missing read scope", ErrInviteInvalid)
	}

	// (e) issuer authority.
	if inv.InviteIssuer == nil {
		if inv.IssuerPrincipalID != inv.SpaceID {
			return fmt.Errorf("%w: only the space root may issue without an invite_issuer cert", ErrInviteInvalid)
		}
	} else {
		if err := VerifyIIC(*inv.InviteIssuer, opts.Now); err != nil {
			return fmt.Errorf("%w: %v", ErrInviteInvalid, err)
		}
		if inv.InviteIssuer.IssuerPrincipalID != inv.IssuerPrincipalID {
			return fmt.Errorf("%w: invite_issuer principal mismatch", ErrInviteInvalid)
		}
		if !models.ScopesSubset(inv.Scopes, inv.InviteIssuer.AllowedScopes) {
			return fmt.Errorf("%w: scopes not a subset of allowed_scopes", ErrInviteScope)
		}
	}

	// (f) invite signature under the issuer device key.
	devicePub, err := canonical.ParseSPKI(inv.IssuerDevicePub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInviteInvalid, err)
	}
	sigInput, err := InviteSigInput(inv)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInviteInvalid, err)
	}
	if !ed25519.Verify(devicePub, sigInput, inv.Sig) {
		return fmt.Errorf("%w: signature", ErrInviteInvalid)
	}
	return nil
}
