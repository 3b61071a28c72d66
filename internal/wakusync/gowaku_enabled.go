//go:build real_waku

package wakusync

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	"github.com/waku-org/go-waku/waku/v2/protocol"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
)

const syncPubsubTopic = "/waku/2/default-waku/proto"

func newGoWakuBackend() wakuBackend {
	return &goWakuNode{}
}

// goWakuNode carries frame envelopes over waku relay. Each envelope is
// a small JSON object so the From field survives the wire.
type goWakuNode struct {
	mu     sync.RWMutex
	node   *wakuNode.WakuNode
	selfID string
}

type wireEnvelope struct {
	From    string `json:"from"`
	Payload []byte `json:"payload"`
}

func (g *goWakuNode) Start(ctx context.Context, cfg Config, selfID string) error {
	opts := make([]wakuNode.WakuNodeOption, 0)
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	opts = append(opts, wakuNode.WithHostAddress(hostAddr))
	opts = append(opts, wakuNode.WithWakuRelay())

	node, err := wakuNode.New(opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	for _, addr := range cfg.BootstrapNodes {
		_ = node.DialPeer(ctx, addr)
	}

	g.mu.Lock()
	g.node = node
	g.selfID = selfID
	g.mu.Unlock()
	return nil
}

func (g *goWakuNode) Stop() {
	g.mu.Lock()
	node := g.node
	g.node = nil
	g.mu.Unlock()
	if node != nil {
		node.Stop()
	}
}

func (g *goWakuNode) PeerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return 0
	}
	return len(g.node.Host().Network().Peers())
}

func (g *goWakuNode) Publish(ctx context.Context, topic string, env busEnvelope) error {
	g.mu.RLock()
	node := g.node
	g.mu.RUnlock()
	if node == nil {
		return errors.New("go-waku node is nil")
	}
	payload, err := json.Marshal(wireEnvelope{From: env.From, Payload: env.Payload})
	if err != nil {
		return err
	}
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{
		Payload:      payload,
		ContentTopic: topic,
		Timestamp:    &ts,
	}
	_, err = node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(syncPubsubTopic))
	return err
}

func (g *goWakuNode) Subscribe(ctx context.Context, topic string, handler func(busEnvelope)) error {
	g.mu.RLock()
	node := g.node
	g.mu.RUnlock()
	if node == nil {
		return errors.New("go-waku node is nil")
	}
	filter := protocol.NewContentFilter(syncPubsubTopic, topic)
	subs, err := node.Relay().Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		go func(subscription *relay.Subscription) {
			for env := range subscription.Ch {
				if env == nil || env.Message() == nil {
					continue
				}
				var wire wireEnvelope
				if err := json.Unmarshal(env.Message().Payload, &wire); err != nil {
					continue
				}
				handler(busEnvelope{From: wire.From, Payload: wire.Payload})
			}
		}(sub)
	}
	return nil
}

func (g *goWakuNode) ListenAddresses() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return nil
	}
	addrs := g.node.ListenAddresses()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}
