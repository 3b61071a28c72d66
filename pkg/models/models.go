package models

import "encoding/json"

// Scope string forms. Scopes are device-local restrictions carried in
// delegations and invites.
const (
	ScopeJoin       = "join"
	ScopePost       = "post"
	ScopeGovernance = "governance"
	ScopeRead       = "read"
)

// DelegationCert binds a Device key to a Principal key with a validity
// window and a scope list, signed by the Principal.
type DelegationCert struct {
	V            int      `json:"v"`
	PrincipalID  string   `json:"principal_id"`
	PrincipalPub []byte   `json:"principal_pub"` // SPKI DER
	DeviceID     string   `json:"device_id"`
	DevicePub    []byte   `json:"device_pub"` // SPKI DER
	NotBeforeTS  int64    `json:"not_before_ts"`
	ExpiresTS    int64    `json:"expires_ts"`
	Scopes       []string `json:"scopes"`
	Sig          []byte   `json:"sig"`
}

// SpaceGenesis roots a Space at its Space Root key.
type SpaceGenesis struct {
	V            int    `json:"v"`
	SpaceID      string `json:"space_id"`
	SpaceRootPub []byte `json:"space_root_pub"` // SPKI DER
	CreatedTS    int64  `json:"created_ts"`
	Name         string `json:"name,omitempty"`
	Sig          []byte `json:"sig"`
}

// InviteIssuerCert authorizes a Principal other than the Space Root to
// issue invites with a subset of scopes for a validity window.
type InviteIssuerCert struct {
	V                  int      `json:"v"`
	SpaceID            string   `json:"space_id"`
	SpaceRootPub       []byte   `json:"space_root_pub"` // SPKI DER
	IssuerPrincipalID  string   `json:"issuer_principal_id"`
	IssuerPrincipalPub []byte   `json:"issuer_principal_pub"` // SPKI DER
	NotBeforeTS        int64    `json:"not_before_ts"`
	ExpiresTS          int64    `json:"expires_ts"`
	AllowedScopes      []string `json:"allowed_scopes"`
	Sig                []byte   `json:"sig"`
}

// Invite is a bearer capability to join a Space. Constraints and
// Bootstrap are opaque JSON that participates in the signature via its
// canonical (JCS) bytes; unknown fields are never dropped.
type Invite struct {
	V                 int               `json:"v"`
	SpaceID           string            `json:"space_id"`
	InviteID          string            `json:"invite_id"`
	IssuedTS          int64             `json:"issued_ts"`
	ExpiresTS         int64             `json:"expires_ts"`
	IssuerPrincipalID string            `json:"issuer_principal_id"`
	IssuerDeviceID    string            `json:"issuer_device_id"`
	IssuerDevicePub   []byte            `json:"issuer_device_pub"` // SPKI DER
	IssuerDelegation  DelegationCert    `json:"issuer_delegation"`
	InviteIssuer      *InviteIssuerCert `json:"invite_issuer,omitempty"`
	Scopes            []string          `json:"scopes"`
	Constraints       json.RawMessage   `json:"constraints,omitempty"`
	Bootstrap         json.RawMessage   `json:"bootstrap,omitempty"`
	Sig               []byte            `json:"sig"`
}

// InviteConstraints is the typed view of the known constraint fields.
// The raw object remains authoritative for signing.
type InviteConstraints struct {
	RequiresPoW      *PoWConstraint `json:"requires_pow,omitempty"`
	BoundPrincipalID string         `json:"bound_principal_id,omitempty"`
	MaxUses          int            `json:"max_uses,omitempty"`
}

// PoWConstraint asks joiners to attach a proof-of-work solution over
// the invite id and their principal id.
type PoWConstraint struct {
	Bits int `json:"bits"`
}

// ParseConstraints decodes the typed view; an absent object yields the
// zero value.
func (inv *Invite) ParseConstraints() (InviteConstraints, error) {
	var c InviteConstraints
	if len(inv.Constraints) == 0 {
		return c, nil
	}
	err := json.Unmarshal(inv.Constraints, &c)
	return c, err
}

// PeerRecord is a signed, expiring reachability hint for a Device.
// Addrs are multiaddr strings; the record is advisory bootstrap input
// only and never authoritative for membership.
type PeerRecord struct {
	V            int            `json:"v"`
	PrincipalID  string         `json:"principal_id"`
	PrincipalPub []byte         `json:"principal_pub"` // SPKI DER
	DeviceID     string         `json:"device_id"`
	DevicePub    []byte         `json:"device_pub"` // SPKI DER
	Delegation   DelegationCert `json:"delegation"`
	TS           int64          `json:"ts"`
	ExpiresTS    int64          `json:"expires_ts"`
	Addrs        []string       `json:"addrs"`
	Sig          []byte         `json:"sig"`
}
