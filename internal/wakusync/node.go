package wakusync

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"p2pspace/internal/platform/ratelimiter"
)

// Transport selection.
const (
	TransportMock   = "mock"
	TransportGoWaku = "real_waku"
)

// Node states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

var ErrBackendUnavailable = errors.New("go-waku backend is not available in this build")

// Config selects and tunes the gossip transport carrying sync frames.
// The protocol core never sees this package; it only sees frames.
type Config struct {
	Transport       string   `yaml:"transport"`
	Port            int      `yaml:"port"`
	BootstrapNodes  []string `yaml:"bootstrapNodes"`
	InboundPerTopic float64  `yaml:"inboundPerTopic"`
	InboundBurst    int      `yaml:"inboundBurst"`
}

func (cfg Config) withDefaults() Config {
	if cfg.Transport == "" {
		cfg.Transport = TransportMock
	}
	if cfg.InboundPerTopic <= 0 {
		cfg.InboundPerTopic = 50
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = 100
	}
	return cfg
}

type Status struct {
	State     string
	PeerCount int
	LastSeen  time.Time
}

// wakuBackend is the seam between the frame bus and go-waku; the mock
// transport replaces it with the in-process topicBus.
type wakuBackend interface {
	Start(ctx context.Context, cfg Config, selfID string) error
	Stop()
	PeerCount() int
	Publish(ctx context.Context, topic string, env busEnvelope) error
	Subscribe(ctx context.Context, topic string, handler func(busEnvelope)) error
	ListenAddresses() []string
}

// Node publishes and receives sync frames on per-room content topics.
type Node struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	selfID  string
	gw      wakuBackend
	topics  map[string]struct{}
	limiter *ratelimiter.MapLimiter
	logger  *slog.Logger
	metrics *nodeMetrics
}

func NewNode(cfg Config, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Node{
		cfg:     cfg,
		status:  Status{State: StateDisconnected},
		selfID:  randomSelfID(),
		topics:  make(map[string]struct{}),
		limiter: ratelimiter.New(cfg.InboundPerTopic, cfg.InboundBurst, 10*time.Minute),
		logger:  logger,
		metrics: newNodeMetrics(),
	}
}

// ContentTopic derives the waku content topic carrying one room's sync
// frames.
func ContentTopic(spaceID, roomID string) string {
	sum := sha256.Sum256([]byte(spaceID + "\x00" + roomID))
	return fmt.Sprintf("/p2pspace/1/sync-%s/json", hex.EncodeToString(sum[:8]))
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.status.State = StateConnecting
	n.mu.Unlock()

	if n.cfg.Transport == TransportGoWaku {
		backend := newGoWakuBackend()
		if backend == nil {
			n.mu.Lock()
			n.status.State = StateDisconnected
			n.mu.Unlock()
			return ErrBackendUnavailable
		}
		if err := backend.Start(ctx, n.cfg, n.selfID); err != nil {
			n.mu.Lock()
			n.status.State = StateDisconnected
			n.mu.Unlock()
			return err
		}
		n.mu.Lock()
		n.gw = backend
		n.status.State = StateConnected
		n.status.PeerCount = backend.PeerCount()
		n.status.LastSeen = time.Now()
		n.mu.Unlock()
		return nil
	}

	n.mu.Lock()
	n.status.State = StateConnected
	n.status.LastSeen = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *Node) Stop() {
	n.mu.Lock()
	gw := n.gw
	n.gw = nil
	topics := make([]string, 0, len(n.topics))
	for topic := range n.topics {
		topics = append(topics, topic)
	}
	n.topics = make(map[string]struct{})
	n.status.State = StateDisconnected
	n.mu.Unlock()

	for _, topic := range topics {
		globalBus.unsubscribe(topic, n.selfID)
	}
	if gw != nil {
		gw.Stop()
	}
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Publish sends one encoded sync frame to the room's content topic.
func (n *Node) Publish(ctx context.Context, spaceID, roomID string, payload []byte) error {
	topic := ContentTopic(spaceID, roomID)
	env := busEnvelope{From: n.selfID, Payload: append([]byte(nil), payload...)}

	n.mu.RLock()
	gw := n.gw
	n.mu.RUnlock()

	n.metrics.framesPublished.Inc()
	if gw != nil {
		return gw.Publish(ctx, topic, env)
	}
	globalBus.publish(topic, env)
	return nil
}

// Subscribe delivers every frame published to the room's topic by other
// peers, rate limited per topic.
func (n *Node) Subscribe(ctx context.Context, spaceID, roomID string, handler func([]byte)) error {
	topic := ContentTopic(spaceID, roomID)
	wrapped := func(env busEnvelope) {
		if env.From == n.selfID {
			return
		}
		if !n.limiter.Allow(topic, time.Now()) {
			n.metrics.framesDropped.Inc()
			n.logger.Debug("inbound frame dropped by topic rate limit", "topic", topic)
			return
		}
		n.metrics.framesReceived.Inc()
		n.mu.Lock()
		n.status.LastSeen = time.Now()
		n.mu.Unlock()
		handler(env.Payload)
	}

	n.mu.Lock()
	n.topics[topic] = struct{}{}
	gw := n.gw
	n.mu.Unlock()

	if gw != nil {
		return gw.Subscribe(ctx, topic, wrapped)
	}
	globalBus.subscribe(topic, n.selfID, wrapped)
	return nil
}

// RegisterMetrics attaches the node's counters to a Prometheus
// registry.
func (n *Node) RegisterMetrics(reg prometheus.Registerer) error {
	return n.metrics.register(reg)
}

type nodeMetrics struct {
	framesPublished prometheus.Counter
	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
}

func newNodeMetrics() *nodeMetrics {
	return &nodeMetrics{
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pspace_sync_frames_published_total",
			Help: "Sync frames published to the gossip transport.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pspace_sync_frames_received_total",
			Help: "Sync frames received from the gossip transport.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p2pspace_sync_frames_dropped_total",
			Help: "Inbound sync frames dropped by the per-topic rate limit.",
		}),
	}
}

func (m *nodeMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.framesPublished, m.framesReceived, m.framesDropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func randomSelfID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "node_fallback"
	}
	return "node_" + hex.EncodeToString(buf)
}
