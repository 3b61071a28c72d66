package wakusync

import (
	"context"

	"p2pspace/internal/sync"
)

// Transport adapts a Node topic to the sync.Transport interface so a
// sync session can gossip over waku instead of a direct pipe. Frames
// from every peer on the topic arrive on the same session; the
// protocol is idempotent, so broadcast answers are harmless.
type Transport struct {
	node    *Node
	spaceID string
	roomID  string
	frames  chan sync.Frame
	cancel  context.CancelFunc
}

// NewTransport subscribes to the room's content topic and returns a
// transport the sync session can own. Close unsubscribes.
func NewTransport(node *Node, spaceID, roomID string) (*Transport, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		node:    node,
		spaceID: spaceID,
		roomID:  roomID,
		frames:  make(chan sync.Frame, 64),
		cancel:  cancel,
	}
	err := node.Subscribe(ctx, spaceID, roomID, func(payload []byte) {
		f, err := sync.DecodeFrame(payload)
		if err != nil {
			return
		}
		select {
		case t.frames <- f:
		case <-ctx.Done():
		default:
			// Backpressure: the session is not draining; drop rather
			// than block the relay goroutine.
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

func (t *Transport) Send(ctx context.Context, f sync.Frame) error {
	raw, err := sync.EncodeFrame(f)
	if err != nil {
		return err
	}
	return t.node.Publish(ctx, t.spaceID, t.roomID, raw)
}

func (t *Transport) Recv(ctx context.Context) (sync.Frame, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-ctx.Done():
		return sync.Frame{}, ctx.Err()
	}
}

func (t *Transport) Close() error {
	t.cancel()
	globalBus.unsubscribe(ContentTopic(t.spaceID, t.roomID), t.node.selfID)
	return nil
}
