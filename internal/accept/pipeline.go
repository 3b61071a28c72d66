package accept

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"p2pspace/internal/event"
	"p2pspace/internal/governance"
	"p2pspace/internal/identity"
	"p2pspace/internal/roomlog"
	"p2pspace/internal/space"
	"p2pspace/pkg/models"
)

// Pipeline validates and authorizes inbound events for one room and
// appends the survivors to its log. Authorization folds the governance
// room, so a pipeline always holds the governance log alongside its
// target.
type Pipeline struct {
	cfg    governance.Config
	log    *roomlog.Log
	govLog *roomlog.Log
	now    func() time.Time
}

// New builds a pipeline for log. When log is the governance room itself,
// pass it as govLog too.
func New(cfg governance.Config, log, govLog *roomlog.Log, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{cfg: cfg, log: log, govLog: govLog, now: now}
}

// Accept runs the full pipeline on one inbound event. Accepting an
// already-stored event is an idempotent no-op. The event is either
// durably appended or not stored at all; there is no partial failure.
func (p *Pipeline) Accept(ev models.Event) error {
	if ev.SpaceID != p.cfg.SpaceID || ev.RoomID != p.log.RoomID() {
		return rejectf(CodeEncodingInvalid, "event addressed to (%s, %s), pipeline owns (%s, %s)",
			ev.SpaceID, ev.RoomID, p.cfg.SpaceID, p.log.RoomID())
	}
	if err := checkLimits(ev); err != nil {
		return err
	}
	if p.log.Has(ev.EventID) {
		return nil
	}
	if err := p.validate(ev); err != nil {
		return err
	}
	if err := p.authorize(ev); err != nil {
		return err
	}
	p.log.Append(ev)
	return nil
}

// validate applies structural, cryptographic, and delegation checks.
func (p *Pipeline) validate(ev models.Event) error {
	if err := event.Verify(ev); err != nil {
		switch {
		case errors.Is(err, event.ErrEventIDMismatch):
			return reject(CodeIDMismatch, err)
		case errors.Is(err, event.ErrEventSignature):
			return reject(CodeSignatureInvalid, err)
		case errors.Is(err, event.ErrEventAuthorBind):
			return reject(CodeIDMismatch, err)
		default:
			return reject(CodeEncodingInvalid, err)
		}
	}

	nowMS := p.now().UnixMilli()
	if err := identity.VerifyDelegation(ev.Delegation, nowMS); err != nil {
		switch {
		case errors.Is(err, identity.ErrDelegationWindow):
			return reject(CodeDelegationWindow, err)
		case errors.Is(err, identity.ErrDelegationIDMismatch):
			return reject(CodeIDMismatch, err)
		default:
			return reject(CodeSignatureInvalid, err)
		}
	}

	required := models.SpaceScope(ev.SpaceID, models.RequiredScopeOp(ev.Kind))
	if !models.HasScope(ev.Delegation.Scopes, required) {
		return rejectf(CodeScopeMissing, "delegation lacks %s", required)
	}
	return nil
}

// authorize checks the event against governance-derived state.
func (p *Pipeline) authorize(ev models.Event) error {
	if ev.RoomID == models.GovernanceRoomID {
		if ev.Kind == models.KindMemberJoin {
			return p.authorizeJoin(ev)
		}
		// Non-join governance events stay Space-Root-only in this
		// baseline; role-derived permissions are a fold projection, not
		// yet an authorization source.
		if ev.AuthorPrincipalID != p.cfg.SpaceID {
			return rejectf(CodeNotAMember, "%s events require the space root", ev.Kind)
		}
		return nil
	}

	st := governance.Fold(p.govLog.All(), p.cfg)
	if st.IsBanned(ev.AuthorPrincipalID) {
		return rejectf(CodeBanned, "author %s is banned", ev.AuthorPrincipalID)
	}
	if !st.IsMember(ev.AuthorPrincipalID) {
		return rejectf(CodeNotAMember, "author %s has not joined", ev.AuthorPrincipalID)
	}
	return nil
}

// authorizeJoin checks a MEMBER_JOIN the same way the fold will, so an
// accepted join is never later ignored by the fold. Errors carry the
// specific cause; the fold itself stays silent about why it skips.
func (p *Pipeline) authorizeJoin(ev models.Event) error {
	var body models.MemberJoinBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		return rejectf(CodeEncodingInvalid, "MEMBER_JOIN body: %v", err)
	}
	if body.PrincipalID != ev.AuthorPrincipalID {
		return rejectf(CodeInviteInvalid, "join body names %s, author is %s", body.PrincipalID, ev.AuthorPrincipalID)
	}
	if !bytes.Equal(body.PrincipalPub, ev.Delegation.PrincipalPub) {
		return rejectf(CodeInviteInvalid, "join body key does not match delegation")
	}
	if body.Invite.SpaceID != ev.SpaceID {
		return rejectf(CodeInviteInvalid, "invite is for space %s", body.Invite.SpaceID)
	}
	err := space.VerifyInvite(body.Invite, space.VerifyOptions{SpaceRootPub: p.cfg.SpaceRootPub, Now: ev.TS})
	switch {
	case errors.Is(err, space.ErrInviteExpired):
		return reject(CodeInviteExpired, err)
	case err != nil:
		return reject(CodeInviteInvalid, err)
	}

	constraints, err := body.Invite.ParseConstraints()
	if err != nil {
		return rejectf(CodeInviteInvalid, "constraints: %v", err)
	}
	if constraints.BoundPrincipalID != "" && constraints.BoundPrincipalID != ev.AuthorPrincipalID {
		return rejectf(CodeInviteInvalid, "invite is bound to %s", constraints.BoundPrincipalID)
	}
	if constraints.RequiresPoW != nil {
		if err := space.CheckPoW(body.Invite.InviteID, ev.AuthorPrincipalID, body.PoWNonce,
			constraints.RequiresPoW.Bits, body.PoWExpiresTS, ev.TS); err != nil {
			return reject(CodePoWInsufficient, err)
		}
	}
	return nil
}
