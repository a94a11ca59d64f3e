// Package report collects errors surfaced by the chat pipeline, dedups
// repeats, and keeps retry handles the UI layer can invoke.
package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vitalhq/pulse/internal/events"
)

// DefaultDedupWindow suppresses identical reports that arrive within this
// span of each other. Streaming failures tend to fire in bursts.
const DefaultDedupWindow = 5 * time.Second

// RetryFunc re-enters a failed operation at its dispatch point.
type RetryFunc func(ctx context.Context) error

// Report is one surfaced error.
type Report struct {
	Context   string    `json:"context"` // where it happened, e.g. "chat.send"
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// Reporter dedups error reports and tracks per-message retry handles.
type Reporter struct {
	mu      sync.Mutex
	window  time.Duration
	lastAt  map[string]time.Time // dedup key -> last report time
	retries map[string]RetryFunc // message ID -> retry handle
	bus     *events.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithDedupWindow overrides the suppression window.
func WithDedupWindow(d time.Duration) Option {
	return func(r *Reporter) { r.window = d }
}

// withClock is a test hook.
func withClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a reporter publishing to bus. Both bus and logger may
// be nil in tests.
func NewReporter(bus *events.Bus, logger *slog.Logger, opts ...Option) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		window:  DefaultDedupWindow,
		lastAt:  make(map[string]time.Time),
		retries: make(map[string]RetryFunc),
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Error reports a non-retryable failure. Returns false when the report was
// suppressed as a duplicate.
func (r *Reporter) Error(reportCtx string, err error) bool {
	return r.report(reportCtx, err.Error(), "", nil)
}

// RetryableError reports a failure together with a handle that re-enters
// the operation. The handle replaces any previous one for the same message.
func (r *Reporter) RetryableError(reportCtx, messageID string, err error, retry RetryFunc) bool {
	return r.report(reportCtx, err.Error(), messageID, retry)
}

func (r *Reporter) report(reportCtx, message, messageID string, retry RetryFunc) bool {
	now := r.now()
	key := reportCtx + "\x00" + message

	r.mu.Lock()
	if last, ok := r.lastAt[key]; ok && now.Sub(last) < r.window {
		// Duplicate inside the window: refresh the retry handle but stay quiet.
		if retry != nil && messageID != "" {
			r.retries[messageID] = retry
		}
		r.mu.Unlock()
		return false
	}
	r.lastAt[key] = now
	if retry != nil && messageID != "" {
		r.retries[messageID] = retry
	}
	r.mu.Unlock()

	r.logger.Error("chat error reported",
		"context", reportCtx,
		"error", message,
		"retryable", retry != nil)

	if r.bus != nil {
		r.bus.Publish(events.TopicErrorReported, Report{
			Context:   reportCtx,
			Message:   message,
			Retryable: retry != nil,
			MessageID: messageID,
			At:        now,
		})
	}
	return true
}

// Retry invokes and consumes the retry handle registered for messageID.
// Returns false when no handle is registered.
func (r *Reporter) Retry(ctx context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	retry, ok := r.retries[messageID]
	if ok {
		delete(r.retries, messageID)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, retry(ctx)
}

// ClearRetry drops the retry handle for a message, if any. Called when the
// message succeeds through another path.
func (r *Reporter) ClearRetry(messageID string) {
	r.mu.Lock()
	delete(r.retries, messageID)
	r.mu.Unlock()
}
