// Package stream serializes and rate-limits partial-response updates from
// provider streaming callbacks before they touch the shared message working
// set. Providers deliver from arbitrary goroutines; the coordinator is the
// handoff point to the single serialized consumer.
package stream

import (
	"sync"
	"time"
)

// DefaultInterval is the debounce window: at most ~15 updates per second
// reach the sink, which is plenty for a reading human and cheap for a UI.
const DefaultInterval = 67 * time.Millisecond

// Sink receives applied content for a message. Implementations are expected
// to serialize their own mutation (the lifecycle manager does).
type Sink interface {
	ApplyContent(messageID, content string)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval overrides the debounce interval. Zero means immediate apply:
// backends whose callbacks already run on the consuming context can bypass
// debouncing entirely, finalize semantics unchanged.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

// Coordinator debounces streaming updates per message while guaranteeing
// the last applied content before Finalize is always the most recent value
// scheduled, never a stale one.
type Coordinator struct {
	mu       sync.Mutex
	interval time.Duration
	sessions map[string]*session
}

// session tracks one in-flight streamed message.
type session struct {
	seq       uint64 // bumped on every Schedule; pending applies compare against it
	timer     *time.Timer
	finalized bool
}

// NewCoordinator creates a coordinator with the default debounce interval.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		interval: DefaultInterval,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schedule records content as the newest partial value for messageID and
// arranges for it to be applied after the debounce interval — unless a
// newer Schedule or a Finalize supersedes it first. Each call captures its
// own sequence number; when the delay elapses the update is applied only if
// that number is still current, so a slow stale update can never clobber a
// newer one delivered out of submission order.
func (c *Coordinator) Schedule(messageID, content string, sink Sink) {
	c.mu.Lock()

	s := c.sessions[messageID]
	if s == nil {
		s = &session{}
		c.sessions[messageID] = s
	}
	if s.finalized {
		c.mu.Unlock()
		return
	}

	s.seq++
	captured := s.seq

	if s.timer != nil {
		s.timer.Stop()
	}

	if c.interval <= 0 {
		c.mu.Unlock()
		sink.ApplyContent(messageID, content)
		return
	}

	s.timer = time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		cur := c.sessions[messageID]
		stale := cur == nil || cur.finalized || cur.seq != captured
		c.mu.Unlock()

		if !stale {
			sink.ApplyContent(messageID, content)
		}
	})

	c.mu.Unlock()
}

// Finalize cancels any pending debounced update and applies the terminal
// content immediately and unconditionally. A second Finalize for the same
// message is a no-op with respect to content.
func (c *Coordinator) Finalize(messageID, content string, sink Sink) {
	c.mu.Lock()

	s := c.sessions[messageID]
	if s == nil {
		s = &session{}
		c.sessions[messageID] = s
	}
	if s.finalized {
		c.mu.Unlock()
		return
	}

	s.finalized = true
	s.seq++ // invalidate any in-flight debounced apply
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	c.mu.Unlock()
	sink.ApplyContent(messageID, content)
}

// Release forgets a finalized message's bookkeeping. Call once the message
// is persisted; finalize idempotence only matters while the send is live.
func (c *Coordinator) Release(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, messageID)
}
