// Package ai provides the uniform provider abstraction over the
// heterogeneous AI backends the pipeline can dispatch to: a local model
// runtime (Ollama), OpenAI and OpenAI-compatible self-hosted servers, the
// Anthropic API, and Gemini.
package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vitalhq/pulse/internal/chat/retry"
)

// StreamEventType defines the type of streaming event.
type StreamEventType string

const (
	// EventTypeText carries an incremental content delta.
	EventTypeText StreamEventType = "text"
	// EventTypeDone carries the final response; emitted exactly once on success.
	EventTypeDone StreamEventType = "done"
	// EventTypeError terminates the stream with a failure.
	EventTypeError StreamEventType = "error"
)

// StreamEvent is one event on a provider's streaming channel.
type StreamEvent struct {
	Type     StreamEventType
	Text     string
	Response *Response
	Err      error
}

// ChatRequest is the uniform request shape handed to every provider.
// Context is the rendered health context; providers that accept a separate
// system field fold SystemPrompt and Context into it. When instruction
// injection applies, Content already carries everything and the other two
// fields are empty.
type ChatRequest struct {
	Content      string
	Context      string
	SystemPrompt string
	MaxTokens    int
}

// Response is the uniform result of a provider call.
type Response struct {
	Content      string
	TokenCount   int // 0 when the backend did not report usage
	ResponseTime time.Duration
}

// Provider is implemented by every backend driver. TestConnection is
// advisory and fails closed; a false result does not gate Send or Stream.
type Provider interface {
	// ID returns the backend identifier (e.g. "ollama", "anthropic").
	ID() string

	// Model returns the configured model identifier.
	Model() string

	// TestConnection probes the backend for reachability.
	TestConnection(ctx context.Context) bool

	// Send performs a blocking call and returns the complete response.
	Send(ctx context.Context, req *ChatRequest) (*Response, error)

	// Stream dispatches the request and returns a channel of events: zero
	// or more text deltas, then exactly one done or error event. Cancelling
	// ctx stops delivery.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// systemText combines the persona prompt and health context into the
// backend's system side channel.
func systemText(req *ChatRequest) string {
	switch {
	case req.SystemPrompt != "" && req.Context != "":
		return req.SystemPrompt + "\n\n" + req.Context
	case req.SystemPrompt != "":
		return req.SystemPrompt
	default:
		return req.Context
	}
}

// ProviderError represents a structured error from a backend.
type ProviderError struct {
	Code    string `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

// IsRetryable classifies a provider failure for retry purposes: structured
// rate-limit/overload/server errors retry, auth and validation errors do
// not, and anything unstructured falls back to the generic classifier.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "rate_limit_exceeded", "overloaded_error", "server_error", "service_unavailable":
			return true
		case "authentication_error", "invalid_api_key", "unauthorized", "invalid_request_error":
			return false
		}
		switch pe.Type {
		case "rate_limit_error", "overloaded_error", "api_error":
			return true
		case "authentication_error", "invalid_request_error":
			return false
		}
	}

	return retry.Retryable(err)
}

// Registry holds the configured providers keyed by backend identifier.
// Adding a backend means registering an implementation, not editing a
// dispatch switch.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider. The first registration becomes the
// active backend until SetActive changes it.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.active == "" {
		r.active = p.ID()
	}
}

// Get returns the provider for the given backend identifier.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// SetActive selects the backend used for new sends.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	r.active = id
	return nil
}

// Active returns the currently selected provider.
func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil, errors.New("no providers registered")
	}
	return r.providers[r.active], nil
}

// IDs returns the registered backend identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sendEvent delivers evt unless ctx is cancelled first, so an abandoned
// consumer never wedges a driver goroutine.
func sendEvent(ctx context.Context, ch chan<- StreamEvent, evt StreamEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// truncateErr keeps provider error bodies log-friendly.
func truncateErr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
