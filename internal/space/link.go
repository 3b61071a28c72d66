package space

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"p2pspace/pkg/models"
)

const inviteFragmentPrefix = "#invite="

var ErrInviteLink = errors.New("invalid invite link")

// EncodeInviteLink renders an invite as a URL fragment: the JSON is
// UTF-8 encoded, base64url-nopad, placed after "#invite=". baseURL may
// be empty to produce just the fragment.
func EncodeInviteLink(baseURL string, inv models.Invite) (string, error) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return "", err
	}
	return baseURL + inviteFragmentPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeInviteLink parses a URL or bare fragment produced by
// EncodeInviteLink and validates any recognized bootstrap hints.
func DecodeInviteLink(link string) (models.Invite, error) {
	idx := strings.Index(link, inviteFragmentPrefix)
	if idx < 0 {
		return models.Invite{}, fmt.Errorf("%w: missing %q fragment", ErrInviteLink, inviteFragmentPrefix)
	}
	code := link[idx+len(inviteFragmentPrefix):]
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return models.Invite{}, fmt.Errorf("%w: %v", ErrInviteLink, err)
	}
	var inv models.Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return models.Invite{}, fmt.Errorf("%w: %v", ErrInviteLink, err)
	}
	if err := ValidateBootstrapHints(inv.Bootstrap); err != nil {
		return models.Invite{}, err
	}
	return inv, nil
}

// BootstrapHints is the typed view of the free-form bootstrap object.
// Unknown fields pass through untouched on the raw invite.
type BootstrapHints struct {
	Peers      []string `json:"peers,omitempty"`
	Relays     []string `json:"relays,omitempty"`
	Rendezvous []string `json:"rendezvous,omitempty"`
}

// ValidateBootstrapHints checks the recognized hint forms. Entries
// prefixed "multiaddr:" must parse as multiaddrs; "signal-ws:" entries
// stay opaque (the core never dials them). Anything else passes.
func ValidateBootstrapHints(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var hints BootstrapHints
	if err := json.Unmarshal(raw, &hints); err != nil {
		return fmt.Errorf("%w: bootstrap: %v", ErrInviteLink, err)
	}
	for _, list := range [][]string{hints.Peers, hints.Relays, hints.Rendezvous} {
		for _, hint := range list {
			addr, ok := strings.CutPrefix(hint, "multiaddr:")
			if !ok {
				continue
			}
			if _, err := ma.NewMultiaddr(addr); err != nil {
				return fmt.Errorf("%w: bad multiaddr hint %q: %v", ErrInviteLink, hint, err)
			}
		}
	}
	return nil
}
