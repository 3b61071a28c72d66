package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"p2pspace/internal/accept"
	"p2pspace/internal/config"
	"p2pspace/internal/event"
	"p2pspace/internal/governance"
	"p2pspace/internal/identity"
	"p2pspace/internal/roomlog"
	"p2pspace/internal/securestore"
	"p2pspace/internal/space"
	"p2pspace/internal/sync"
	"p2pspace/internal/wakusync"
	"p2pspace/pkg/models"
)

func defaultClock() int64 { return time.Now().UnixMilli() }

// Options configure a node. A nil Manager gets a fresh identity.
type Options struct {
	Config  config.Config
	Genesis models.SpaceGenesis
	Manager *identity.Manager
	Logger  *slog.Logger
	Clock   func() int64 // milliseconds since epoch
}

// Node hosts one Space: its governance room, its message rooms, and a
// sync session per room over the gossip transport. It is the embedder
// the protocol core was designed for; the core packages never import
// it.
type Node struct {
	cfg     config.Config
	logger  *slog.Logger
	mgr     *identity.Manager
	genesis models.SpaceGenesis
	govCfg  governance.Config
	waku    *wakusync.Node
	nowMS   func() int64

	mu     gosync.Mutex
	rooms  map[string]*room
	cancel context.CancelFunc
}

type room struct {
	log  *roomlog.Log
	pipe *accept.Pipeline
	sess *sync.Session
	tr   *wakusync.Transport
}

func New(opts Options) (*Node, error) {
	if err := space.VerifyGenesis(opts.Genesis); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mgr := opts.Manager
	if mgr == nil {
		var err error
		mgr, err = identity.NewManager()
		if err != nil {
			return nil, err
		}
	}
	nowMS := opts.Clock
	if nowMS == nil {
		nowMS = defaultClock
	}
	n := &Node{
		cfg:     opts.Config,
		logger:  logger,
		mgr:     mgr,
		genesis: opts.Genesis,
		govCfg: governance.Config{
			SpaceID:      opts.Genesis.SpaceID,
			SpaceRootPub: append([]byte(nil), opts.Genesis.SpaceRootPub...),
		},
		waku:  wakusync.NewNode(wakusync.Config{Transport: opts.Config.Transport, BootstrapNodes: opts.Config.Peers.Bootstrap}, logger),
		nowMS: nowMS,
		rooms: make(map[string]*room),
	}
	return n, nil
}

// Identity returns the node's principal view.
func (n *Node) Identity() identity.Identity { return n.mgr.GetIdentity() }

// RegisterMetrics attaches the transport counters to a registry.
func (n *Node) RegisterMetrics(reg prometheus.Registerer) error {
	return n.waku.RegisterMetrics(reg)
}

// Manager exposes the identity manager for invite issuance and seed
// operations.
func (n *Node) Manager() *identity.Manager { return n.mgr }

// Start brings up the transport and one sync session per room. The
// governance room always syncs, whatever the config lists.
func (n *Node) Start(ctx context.Context) error {
	if err := n.waku.Start(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)

	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	roomIDs := append([]string{models.GovernanceRoomID}, n.cfg.Rooms...)
	for _, roomID := range roomIDs {
		r, err := n.openRoom(roomID)
		if err != nil {
			cancel()
			return err
		}
		if r.sess == nil {
			tr, err := wakusync.NewTransport(n.waku, n.genesis.SpaceID, roomID)
			if err != nil {
				cancel()
				return err
			}
			r.tr = tr
			r.sess = sync.NewSession(r.log, r.pipe, tr, n.logger, n.cfg.Limits())
			go func(s *sync.Session) {
				if err := s.Run(runCtx); err != nil {
					n.logger.Warn("sync session ended", "error", err)
				}
			}(r.sess)
		}
	}
	return nil
}

func (n *Node) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	rooms := make([]*room, 0, len(n.rooms))
	for _, r := range n.rooms {
		rooms = append(rooms, r)
	}
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, r := range rooms {
		if r.tr != nil {
			_ = r.tr.Close()
		}
	}
	n.waku.Stop()
}

// openRoom lazily builds the log and pipeline for a room. Every room
// pipeline shares the governance log for authorization.
func (n *Node) openRoom(roomID string) (*room, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r, ok := n.rooms[roomID]; ok {
		return r, nil
	}
	gov, ok := n.rooms[models.GovernanceRoomID]
	if !ok {
		govLog := roomlog.New(n.genesis.SpaceID, models.GovernanceRoomID)
		gov = &room{
			log:  govLog,
			pipe: accept.New(n.govCfg, govLog, govLog, nil),
		}
		n.rooms[models.GovernanceRoomID] = gov
	}
	if roomID == models.GovernanceRoomID {
		return gov, nil
	}
	log := roomlog.New(n.genesis.SpaceID, roomID)
	r := &room{
		log:  log,
		pipe: accept.New(n.govCfg, log, gov.log, nil),
	}
	n.rooms[roomID] = r
	return r, nil
}

// Join authors a MEMBER_JOIN carrying the invite, accepts it locally,
// and forwards it to peers.
func (n *Node) Join(ctx context.Context, inv models.Invite) (models.Event, error) {
	joinBody := models.MemberJoinBody{
		PrincipalID:  n.mgr.GetIdentity().PrincipalID,
		PrincipalPub: append([]byte(nil), n.mgr.GetIdentity().PrincipalPub...),
		Invite:       inv,
	}
	constraints, err := inv.ParseConstraints()
	if err != nil {
		return models.Event{}, err
	}
	if constraints.RequiresPoW != nil {
		joinBody.PoWNonce = space.SolvePoW(inv.InviteID, joinBody.PrincipalID, constraints.RequiresPoW.Bits)
		joinBody.PoWExpiresTS = inv.ExpiresTS
	}
	raw, err := json.Marshal(joinBody)
	if err != nil {
		return models.Event{}, err
	}
	return n.author(ctx, models.GovernanceRoomID, models.KindMemberJoin, raw)
}

// Post authors a MSG_POST in a room.
func (n *Node) Post(ctx context.Context, roomID, text string) (models.Event, error) {
	raw, err := json.Marshal(models.MsgPostBody{Text: text})
	if err != nil {
		return models.Event{}, err
	}
	return n.author(ctx, roomID, models.KindMsgPost, raw)
}

// Author composes an event of any kind in a room; governance kinds
// still pass the same acceptance pipeline as everyone else's events.
func (n *Node) Author(ctx context.Context, roomID, kind string, body json.RawMessage) (models.Event, error) {
	return n.author(ctx, roomID, kind, body)
}

func (n *Node) author(ctx context.Context, roomID, kind string, body json.RawMessage) (models.Event, error) {
	r, err := n.openRoom(roomID)
	if err != nil {
		return models.Event{}, err
	}
	ev, err := event.New(n.mgr, n.genesis.SpaceID, roomID, kind, r.log.Heads(), body, n.nowMS())
	if err != nil {
		return models.Event{}, err
	}
	if err := r.pipe.Accept(ev); err != nil {
		return models.Event{}, err
	}
	if r.sess != nil {
		if err := r.sess.Publish(ctx, ev); err != nil {
			n.logger.Warn("eager publish failed", "error", err)
		}
	}
	return ev, nil
}

// Events returns a room's log in deterministic topological order.
func (n *Node) Events(roomID string) []models.Event {
	r, err := n.openRoom(roomID)
	if err != nil {
		return nil
	}
	return r.log.Ordered()
}

// GovernanceState folds the governance room.
func (n *Node) GovernanceState() governance.State {
	r, err := n.openRoom(models.GovernanceRoomID)
	if err != nil {
		return governance.State{}
	}
	return governance.Fold(r.log.All(), n.govCfg)
}

// SaveRoomSnapshot persists a room's events encrypted at rest.
func (n *Node) SaveRoomSnapshot(roomID, secret string) error {
	r, err := n.openRoom(roomID)
	if err != nil {
		return err
	}
	path := filepath.Join(n.cfg.DataDir, "rooms", roomID+".json.enc")
	return securestore.WriteEncryptedJSON(path, secret, r.log.All())
}

// LoadRoomSnapshot replays a persisted room through the acceptance
// pipeline; invalid or no-longer-authorized events stay dropped.
func (n *Node) LoadRoomSnapshot(roomID, secret string) (int, error) {
	path := filepath.Join(n.cfg.DataDir, "rooms", roomID+".json.enc")
	raw, err := securestore.ReadDecryptedFile(path, secret)
	if err != nil {
		return 0, err
	}
	var events []models.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return 0, err
	}
	r, err := n.openRoom(roomID)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, ev := range events {
		if err := r.pipe.Accept(ev); err == nil {
			loaded++
		}
	}
	return loaded, nil
}
