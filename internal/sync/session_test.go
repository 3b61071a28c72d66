package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"p2pspace/internal/accept"
	"p2pspace/internal/event"
	"p2pspace/internal/governance"
	"p2pspace/internal/identity"
	"p2pspace/internal/roomlog"
	"p2pspace/internal/space"
	"p2pspace/pkg/models"
)

// peerFixture is one peer's view of a space: its governance log and one
// room log with their pipelines.
type peerFixture struct {
	govLog   *roomlog.Log
	roomLog  *roomlog.Log
	roomPipe *accept.Pipeline
}

type syncFixture struct {
	root    *identity.Manager
	joiner  *identity.Manager
	genesis models.SpaceGenesis
	cfg     governance.Config
	join    models.Event
	now     int64
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	root, err := identity.NewManager()
	if err != nil {
		t.Fatalf("new root failed: %v", err)
	}
	ident := root.GetIdentity()
	g := models.SpaceGenesis{
		V:            1,
		SpaceID:      ident.PrincipalID,
		SpaceRootPub: append([]byte(nil), ident.PrincipalPub...),
		CreatedTS:    time.Now().UnixMilli(),
		Name:         "sync-test",
	}
	sig, err := root.SignWithPrincipal(space.GenesisSigInput(g))
	if err != nil {
		t.Fatalf("sign genesis failed: %v", err)
	}
	g.Sig = sig

	joiner, err := identity.NewManager()
	if err != nil {
		t.Fatalf("new joiner failed: %v", err)
	}
	now := time.Now().UnixMilli()
	inv, err := space.Issue(root, space.IssueParams{
		SpaceID:   g.SpaceID,
		ExpiresTS: now + time.Hour.Milliseconds(),
		Scopes:    []string{models.SpaceScope(g.SpaceID, models.ScopePost)},
	}, now)
	if err != nil {
		t.Fatalf("issue invite failed: %v", err)
	}
	body, _ := json.Marshal(models.MemberJoinBody{
		PrincipalID:  joiner.GetIdentity().PrincipalID,
		PrincipalPub: append([]byte(nil), joiner.GetIdentity().PrincipalPub...),
		Invite:       inv,
	})
	join, err := event.New(joiner, g.SpaceID, models.GovernanceRoomID, models.KindMemberJoin, nil, body, now)
	if err != nil {
		t.Fatalf("new join failed: %v", err)
	}
	return &syncFixture{
		root:    root,
		joiner:  joiner,
		genesis: g,
		cfg:     governance.Config{SpaceID: g.SpaceID, SpaceRootPub: g.SpaceRootPub},
		join:    join,
		now:     now,
	}
}

func (f *syncFixture) newPeer(t *testing.T) *peerFixture {
	t.Helper()
	govLog := roomlog.New(f.genesis.SpaceID, models.GovernanceRoomID)
	govPipe := accept.New(f.cfg, govLog, govLog, nil)
	if err := govPipe.Accept(f.join); err != nil {
		t.Fatalf("peer must accept the join: %v", err)
	}
	roomLog := roomlog.New(f.genesis.SpaceID, "general")
	return &peerFixture{
		govLog:   govLog,
		roomLog:  roomLog,
		roomPipe: accept.New(f.cfg, roomLog, govLog, nil),
	}
}

func (f *syncFixture) post(t *testing.T, text string, prev []string, ts int64) models.Event {
	t.Helper()
	body, _ := json.Marshal(models.MsgPostBody{Text: text})
	ev, err := event.New(f.joiner, f.genesis.SpaceID, "general", models.KindMsgPost, prev, body, ts)
	if err != nil {
		t.Fatalf("new post failed: %v", err)
	}
	return ev
}

func TestSessionConvergesWithGapFill(t *testing.T) {
	f := newSyncFixture(t)
	peerA := f.newPeer(t)
	peerB := f.newPeer(t)

	// A holds the chain E1 <- E2 <- E3; B holds only E1.
	e1 := f.post(t, "one", nil, f.now)
	e2 := f.post(t, "two", []string{e1.EventID}, f.now+1)
	e3 := f.post(t, "three", []string{e2.EventID}, f.now+2)
	for _, ev := range []models.Event{e1, e2, e3} {
		if err := peerA.roomPipe.Accept(ev); err != nil {
			t.Fatalf("peer A accept failed: %v", err)
		}
	}
	if err := peerB.roomPipe.Accept(e1); err != nil {
		t.Fatalf("peer B accept failed: %v", err)
	}

	trA, trB := Pipe()
	sessA := NewSession(peerA.roomLog, peerA.roomPipe, trA, nil, DefaultLimits())
	sessB := NewSession(peerB.roomLog, peerB.roomPipe, trB, nil, DefaultLimits())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = sessA.Run(ctx) }()
	go func() { _ = sessB.Run(ctx) }()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if peerB.roomLog.Len() == 3 && peerA.roomLog.Len() == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if peerB.roomLog.Len() != 3 {
		t.Fatalf("peer B must converge to 3 events, has %d (missing %v)", peerB.roomLog.Len(), peerB.roomLog.MissingParents())
	}
	if heads := peerB.roomLog.Heads(); len(heads) != 1 || heads[0] != e3.EventID {
		t.Fatalf("peer B heads must be [%s], got %v", e3.EventID, heads)
	}
}

func TestPublishForwardsEagerly(t *testing.T) {
	f := newSyncFixture(t)
	peerA := f.newPeer(t)
	peerB := f.newPeer(t)

	trA, trB := Pipe()
	sessA := NewSession(peerA.roomLog, peerA.roomPipe, trA, nil, DefaultLimits())
	sessB := NewSession(peerB.roomLog, peerB.roomPipe, trB, nil, DefaultLimits())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = sessA.Run(ctx) }()
	go func() { _ = sessB.Run(ctx) }()

	ev := f.post(t, "fresh", nil, f.now)
	if err := peerA.roomPipe.Accept(ev); err != nil {
		t.Fatalf("local accept failed: %v", err)
	}
	if err := sessA.Publish(ctx, ev); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) && !peerB.roomLog.Has(ev.EventID) {
		time.Sleep(10 * time.Millisecond)
	}
	if !peerB.roomLog.Has(ev.EventID) {
		t.Fatal("published event must reach the peer")
	}
}

func TestHaveBatchTruncatedAtCap(t *testing.T) {
	f := newSyncFixture(t)
	receiver := f.newPeer(t)

	events := make([]models.Event, 0, MaxHave+6)
	for i := 0; i < MaxHave+6; i++ {
		events = append(events, f.post(t, fmt.Sprintf("msg %d", i), nil, f.now+int64(i)))
	}

	tr, other := Pipe()
	defer other.Close()
	sess := NewSession(receiver.roomLog, receiver.roomPipe, tr, nil, DefaultLimits())
	sess.handleFrame(context.Background(), Frame{
		T: FrameHave, V: FrameVersion,
		SpaceID: f.genesis.SpaceID, RoomID: "general",
		Events: events,
	})
	if got := receiver.roomLog.Len(); got != MaxHave {
		t.Fatalf("only the first %d of a have batch may be processed, got %d", MaxHave, got)
	}
}

func TestMessageRateLimitDropsFrames(t *testing.T) {
	f := newSyncFixture(t)
	peer := f.newPeer(t)

	tr, other := Pipe()
	defer other.Close()
	sess := NewSession(peer.roomLog, peer.roomPipe, tr, nil, DefaultLimits())
	frozen := time.Now()
	sess.now = func() time.Time { return frozen }

	ctx := context.Background()
	for i := 0; i < MessageBurst+10; i++ {
		sess.handleFrame(ctx, Frame{
			T: FrameHello, V: FrameVersion,
			SpaceID: f.genesis.SpaceID, RoomID: "general",
		})
	}
	if got := sess.Dropped(); got != 10 {
		t.Fatalf("expected 10 dropped frames beyond the burst, got %d", got)
	}
}

func TestRejectionCountersByCode(t *testing.T) {
	f := newSyncFixture(t)
	peer := f.newPeer(t)

	outsider, err := identity.NewManager()
	if err != nil {
		t.Fatalf("new outsider failed: %v", err)
	}
	body, _ := json.Marshal(models.MsgPostBody{Text: "who am I"})
	ev, err := event.New(outsider, f.genesis.SpaceID, "general", models.KindMsgPost, nil, body, f.now)
	if err != nil {
		t.Fatalf("new post failed: %v", err)
	}

	tr, other := Pipe()
	defer other.Close()
	sess := NewSession(peer.roomLog, peer.roomPipe, tr, nil, DefaultLimits())
	sess.handleFrame(context.Background(), Frame{
		T: FrameHave, V: FrameVersion,
		SpaceID: f.genesis.SpaceID, RoomID: "general",
		Events: []models.Event{ev},
	})
	if got := sess.Rejections()[accept.CodeNotAMember]; got != 1 {
		t.Fatalf("expected one not_a_member rejection, got %d", got)
	}
	if peer.roomLog.Len() != 0 {
		t.Fatal("rejected event must not be stored")
	}
}

func TestFrameCodecRoundTripAndCaps(t *testing.T) {
	f := Frame{T: FrameHeads, V: FrameVersion, SpaceID: "ed25519:s", RoomID: "general", Heads: []string{"e:1"}}
	raw, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.T != FrameHeads || back.Heads[0] != "e:1" {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	if _, err := DecodeFrame([]byte(`{"t":"heads","v":2,"spaceId":"s","roomId":"r"}`)); err == nil {
		t.Fatal("wrong version must be rejected")
	}
	if _, err := DecodeFrame([]byte(`{"t":"nonsense","v":1,"spaceId":"s","roomId":"r"}`)); err == nil {
		t.Fatal("unknown frame kind must be rejected")
	}
	if _, err := DecodeFrame(make([]byte, MaxFrameBytes+1)); err == nil {
		t.Fatal("oversized frame must be rejected")
	}
}
