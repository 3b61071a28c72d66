package governance

import (
	"bytes"
	"encoding/json"

	"p2pspace/internal/roomlog"
	"p2pspace/internal/space"
	"p2pspace/pkg/models"
)

// Config is the verifier context the fold needs: which Space it is
// folding and, when known, the Space Root key from genesis.
type Config struct {
	SpaceID      string
	SpaceRootPub []byte // SPKI DER
}

// RoomDef is the folded projection of ROOM_DEFINE / ROOM_ARCHIVE.
type RoomDef struct {
	Name     string
	Archived bool
}

// State is the pure fold of the governance-room DAG. Roles and rooms
// are recorded projections; authorization stays Space-Root-only in
// this baseline.
type State struct {
	Members  map[string]struct{}
	Banned   map[string]struct{}
	RoleDefs map[string]struct{}
	Roles    map[string]string
	Rooms    map[string]RoomDef
}

func newState() State {
	return State{
		Members:  make(map[string]struct{}),
		Banned:   make(map[string]struct{}),
		RoleDefs: make(map[string]struct{}),
		Roles:    make(map[string]string),
		Rooms:    make(map[string]RoomDef),
	}
}

func (s State) IsMember(principalID string) bool {
	_, ok := s.Members[principalID]
	return ok
}

func (s State) IsBanned(principalID string) bool {
	_, ok := s.Banned[principalID]
	return ok
}

// Fold computes the governance state from a set of governance-room
// events. The input set is topologically ordered first, so any two
// peers holding the same events reach the same state. Invite expiry
// inside MEMBER_JOIN is judged against the event's own timestamp, not
// the folding peer's clock; wall clocks differ between peers, event
// timestamps do not.
func Fold(events []models.Event, cfg Config) State {
	st := newState()
	for _, ev := range roomlog.TopoSort(events) {
		if ev.RoomID != models.GovernanceRoomID || ev.SpaceID != cfg.SpaceID {
			continue
		}
		switch ev.Kind {
		case models.KindMemberJoin:
			if joinAdmits(ev, cfg) {
				st.Members[ev.AuthorPrincipalID] = struct{}{}
			}
		case models.KindMemberBan:
			var body models.MemberModBody
			if json.Unmarshal(ev.Body, &body) == nil && body.PrincipalID != "" {
				st.Banned[body.PrincipalID] = struct{}{}
			}
		case models.KindMemberUnban:
			var body models.MemberModBody
			if json.Unmarshal(ev.Body, &body) == nil && body.PrincipalID != "" {
				delete(st.Banned, body.PrincipalID)
			}
		case models.KindRoleDefine:
			var body models.RoleBody
			if json.Unmarshal(ev.Body, &body) == nil && body.Role != "" {
				st.RoleDefs[body.Role] = struct{}{}
			}
		case models.KindRoleGrant:
			var body models.RoleBody
			if json.Unmarshal(ev.Body, &body) != nil || body.Role == "" || body.PrincipalID == "" {
				continue
			}
			if _, defined := st.RoleDefs[body.Role]; defined {
				st.Roles[body.PrincipalID] = body.Role
			}
		case models.KindRoleRevoke:
			var body models.RoleBody
			if json.Unmarshal(ev.Body, &body) == nil && body.PrincipalID != "" {
				if st.Roles[body.PrincipalID] == body.Role || body.Role == "" {
					delete(st.Roles, body.PrincipalID)
				}
			}
		case models.KindRoomDefine:
			var body models.RoomDefineBody
			if json.Unmarshal(ev.Body, &body) == nil && body.RoomID != "" {
				st.Rooms[body.RoomID] = RoomDef{Name: body.Name}
			}
		case models.KindRoomArchive:
			var body models.RoomDefineBody
			if json.Unmarshal(ev.Body, &body) != nil || body.RoomID == "" {
				continue
			}
			if def, ok := st.Rooms[body.RoomID]; ok {
				def.Archived = true
				st.Rooms[body.RoomID] = def
			}
		}
		// Unrecognized kinds are stored and relayed elsewhere; the fold
		// ignores them.
	}
	return st
}

// joinAdmits applies the MEMBER_JOIN admission rules.
func joinAdmits(ev models.Event, cfg Config) bool {
	var body models.MemberJoinBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		return false
	}
	if body.PrincipalID != ev.AuthorPrincipalID {
		return false
	}
	if !bytes.Equal(body.PrincipalPub, ev.Delegation.PrincipalPub) {
		return false
	}
	inv := body.Invite
	if inv.SpaceID != ev.SpaceID {
		return false
	}
	if err := space.VerifyInvite(inv, space.VerifyOptions{SpaceRootPub: cfg.SpaceRootPub, Now: ev.TS}); err != nil {
		return false
	}
	constraints, err := inv.ParseConstraints()
	if err != nil {
		return false
	}
	if constraints.BoundPrincipalID != "" && constraints.BoundPrincipalID != ev.AuthorPrincipalID {
		return false
	}
	if constraints.RequiresPoW != nil {
		if err := space.CheckPoW(inv.InviteID, ev.AuthorPrincipalID, body.PoWNonce,
			constraints.RequiresPoW.Bits, body.PoWExpiresTS, ev.TS); err != nil {
			return false
		}
	}
	return true
}
