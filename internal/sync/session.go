package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/time/rate"

	"p2pspace/internal/accept"
	"p2pspace/internal/platform/privacylog"
	"p2pspace/internal/roomlog"
	"p2pspace/pkg/models"
)

// Per-peer token buckets. When a bucket is empty the frame (or the
// remainder of a batch) is dropped and a warning is logged at most
// once per second.
const (
	MessageBurst        = 60
	MessageRefillPerSec = 20
	VerifyBurst         = 80
	VerifyRefillPerSec  = 20
)

// Limits overrides the default token buckets.
type Limits struct {
	MessageBurst        int
	MessageRefillPerSec float64
	VerifyBurst         int
	VerifyRefillPerSec  float64
}

func DefaultLimits() Limits {
	return Limits{
		MessageBurst:        MessageBurst,
		MessageRefillPerSec: MessageRefillPerSec,
		VerifyBurst:         VerifyBurst,
		VerifyRefillPerSec:  VerifyRefillPerSec,
	}
}

// Session drives the anti-entropy exchange for one (space, room)
// against one peer. It owns nothing but its transport; the log and
// pipeline are shared with other sessions of the same room.
type Session struct {
	log    *roomlog.Log
	pipe   *accept.Pipeline
	tr     Transport
	logger *slog.Logger
	now    func() time.Time

	msgBucket    *rate.Limiter
	verifyBucket *rate.Limiter

	mu         gosync.Mutex
	rejections map[accept.Code]int
	dropped    int
	lastWarn   time.Time
}

func NewSession(log *roomlog.Log, pipe *accept.Pipeline, tr Transport, logger *slog.Logger, limits Limits) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.MessageBurst <= 0 {
		limits = DefaultLimits()
	}
	return &Session{
		log:          log,
		pipe:         pipe,
		tr:           tr,
		logger:       logger,
		now:          time.Now,
		msgBucket:    rate.NewLimiter(rate.Limit(limits.MessageRefillPerSec), limits.MessageBurst),
		verifyBucket: rate.NewLimiter(rate.Limit(limits.VerifyRefillPerSec), limits.VerifyBurst),
		rejections:   make(map[accept.Code]int),
	}
}

// Run greets the peer, announces local heads, and serves frames until
// the context is cancelled or the transport closes. Closing the
// transport cancels the session cooperatively.
func (s *Session) Run(ctx context.Context) error {
	if err := s.send(ctx, Frame{T: FrameHello}); err != nil {
		return err
	}
	if err := s.sendHeads(ctx); err != nil {
		return err
	}
	for {
		f, err := s.tr.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		s.handleFrame(ctx, f)
	}
}

// Publish eagerly forwards a newly persisted local event to the peer.
func (s *Session) Publish(ctx context.Context, ev models.Event) error {
	return s.send(ctx, Frame{T: FrameHave, Events: []models.Event{ev}})
}

// Rejections snapshots the per-code rejection counters.
func (s *Session) Rejections() map[accept.Code]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[accept.Code]int, len(s.rejections))
	for code, n := range s.rejections {
		out[code] = n
	}
	return out
}

// Dropped reports frames discarded by rate limiting.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Session) handleFrame(ctx context.Context, f Frame) {
	if f.SpaceID != s.log.SpaceID() || f.RoomID != s.log.RoomID() {
		return
	}
	if !s.msgBucket.AllowN(s.now(), 1) {
		s.drop("message budget exhausted")
		return
	}
	switch f.T {
	case FrameHello:
		_ = s.sendHeads(ctx)
	case FrameHeads:
		s.handleHeads(ctx, f)
	case FrameWant:
		s.handleWant(ctx, f)
	case FrameHave:
		s.handleHave(ctx, f)
	}
}

// handleHeads requests every peer head the local log lacks, together
// with any known gaps, bounded to MaxWant.
func (s *Session) handleHeads(ctx context.Context, f Frame) {
	heads := f.Heads
	if len(heads) > MaxHeads {
		heads = heads[:MaxHeads]
	}
	want := make([]string, 0, len(heads))
	seen := make(map[string]struct{}, len(heads))
	for _, id := range heads {
		if id == "" || s.log.Has(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		want = append(want, id)
	}
	for _, id := range s.log.MissingParents() {
		if len(want) >= MaxWant {
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		want = append(want, id)
	}
	if len(want) > MaxWant {
		want = want[:MaxWant]
	}
	if len(want) == 0 {
		return
	}
	_ = s.send(ctx, Frame{T: FrameWant, IDs: want})
}

// handleWant replies with the subset of requested events the local log
// holds, in batches of MaxHave.
func (s *Session) handleWant(ctx context.Context, f Frame) {
	ids := f.IDs
	if len(ids) > MaxWant {
		ids = ids[:MaxWant]
	}
	batch := make([]models.Event, 0, MaxHave)
	for _, id := range ids {
		ev, ok := s.log.Get(id)
		if !ok {
			continue
		}
		batch = append(batch, ev)
		if len(batch) == MaxHave {
			_ = s.send(ctx, Frame{T: FrameHave, Events: batch})
			batch = make([]models.Event, 0, MaxHave)
		}
	}
	if len(batch) > 0 {
		_ = s.send(ctx, Frame{T: FrameHave, Events: batch})
	}
}

// handleHave runs the acceptance pipeline over the batch, then asks for
// any parents the batch exposed as missing.
func (s *Session) handleHave(ctx context.Context, f Frame) {
	events := f.Events
	if len(events) > MaxHave {
		events = events[:MaxHave]
	}
	accepted := 0
	for _, ev := range events {
		if !s.verifyBucket.AllowN(s.now(), 1) {
			s.drop("verification budget exhausted")
			break
		}
		if err := s.pipe.Accept(ev); err != nil {
			s.recordRejection(ev, err)
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return
	}
	if gaps := s.log.MissingParents(); len(gaps) > 0 {
		if len(gaps) > MaxWant {
			gaps = gaps[:MaxWant]
		}
		_ = s.send(ctx, Frame{T: FrameWant, IDs: gaps})
	}
	// Let the peer learn our new frontier without waiting for the next
	// anti-entropy round.
	_ = s.sendHeads(ctx)
}

func (s *Session) sendHeads(ctx context.Context) error {
	heads := s.log.Heads()
	if len(heads) > MaxHeads {
		heads = heads[:MaxHeads]
	}
	return s.send(ctx, Frame{T: FrameHeads, Heads: heads})
}

func (s *Session) send(ctx context.Context, f Frame) error {
	f.V = FrameVersion
	f.SpaceID = s.log.SpaceID()
	f.RoomID = s.log.RoomID()
	return s.tr.Send(ctx, f)
}

func (s *Session) recordRejection(ev models.Event, err error) {
	code := accept.CodeOf(err)
	s.mu.Lock()
	s.rejections[code]++
	s.mu.Unlock()
	s.logger.Warn("sync event rejected", privacylog.SanitizeArgs(
		"room_id", s.log.RoomID(),
		"event_id", ev.EventID,
		"code", string(code),
	)...)
}

func (s *Session) drop(reason string) {
	s.mu.Lock()
	s.dropped++
	warn := s.now().Sub(s.lastWarn) >= time.Second
	if warn {
		s.lastWarn = s.now()
	}
	s.mu.Unlock()
	if warn {
		s.logger.Warn("sync frame dropped", "room_id", s.log.RoomID(), "reason", reason)
	}
}
