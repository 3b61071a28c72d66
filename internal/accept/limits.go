package accept

import (
	"encoding/json"
	"unicode/utf8"

	"p2pspace/pkg/models"
)

// Local-policy caps applied before any cryptography runs.
const (
	MaxIDLen        = 256
	MaxKeyLen       = 4096
	MaxSigLen       = 2048
	MaxPrevEntries  = 64
	MaxScopeEntries = 64
	MaxTextChars    = 2000
	MaxWireBytes    = 256 * 1024
)

// checkLimits bounds every field before signatures are examined, so a
// hostile peer cannot make us hash or verify oversized garbage.
func checkLimits(ev models.Event) error {
	for name, v := range map[string]string{
		"space_id": ev.SpaceID,
		"room_id":  ev.RoomID,
		"event_id": ev.EventID,
		"kind":     ev.Kind,
	} {
		if len(v) > MaxIDLen {
			return rejectf(CodeLimitsExceeded, "%s exceeds %d bytes", name, MaxIDLen)
		}
	}
	if len(ev.AuthorPrincipalID) > MaxIDLen || len(ev.AuthorDeviceID) > MaxIDLen {
		return rejectf(CodeLimitsExceeded, "author id exceeds %d bytes", MaxIDLen)
	}
	if len(ev.AuthorDevicePub) > MaxKeyLen ||
		len(ev.Delegation.PrincipalPub) > MaxKeyLen || len(ev.Delegation.DevicePub) > MaxKeyLen {
		return rejectf(CodeLimitsExceeded, "public key exceeds %d bytes", MaxKeyLen)
	}
	if len(ev.Sig) > MaxSigLen || len(ev.Delegation.Sig) > MaxSigLen {
		return rejectf(CodeLimitsExceeded, "signature exceeds %d bytes", MaxSigLen)
	}
	if len(ev.Prev) > MaxPrevEntries {
		return rejectf(CodeLimitsExceeded, "prev has %d entries, cap %d", len(ev.Prev), MaxPrevEntries)
	}
	for _, p := range ev.Prev {
		if len(p) > MaxIDLen {
			return rejectf(CodeLimitsExceeded, "prev entry exceeds %d bytes", MaxIDLen)
		}
	}
	if len(ev.Delegation.Scopes) > MaxScopeEntries {
		return rejectf(CodeLimitsExceeded, "delegation has %d scopes, cap %d", len(ev.Delegation.Scopes), MaxScopeEntries)
	}
	if ev.Kind == models.KindMsgPost {
		var body models.MsgPostBody
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return rejectf(CodeEncodingInvalid, "MSG_POST body: %v", err)
		}
		if utf8.RuneCountInString(body.Text) > MaxTextChars {
			return rejectf(CodeLimitsExceeded, "message text exceeds %d characters", MaxTextChars)
		}
	}
	return nil
}
