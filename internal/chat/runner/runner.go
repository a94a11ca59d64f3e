// Package runner orchestrates the message lifecycle: persist the user
// message, build health context, shape the request for the active backend,
// dispatch (blocking or streaming), and drive every status transition
// through to sent or failed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vitalhq/pulse/internal/chat/ai"
	"github.com/vitalhq/pulse/internal/chat/health"
	"github.com/vitalhq/pulse/internal/chat/report"
	"github.com/vitalhq/pulse/internal/chat/retry"
	"github.com/vitalhq/pulse/internal/chat/store"
	"github.com/vitalhq/pulse/internal/chat/stream"
	"github.com/vitalhq/pulse/internal/events"
)

// Precondition errors. Raised before any state mutation.
var (
	ErrNoActiveConversation = errors.New("no active conversation selected")
	ErrNotConnected         = errors.New("not connected")
	ErrEmptyMessage         = errors.New("message is empty")
)

// MessageEvent is published on TopicMessageUpdated for every observable
// message mutation. Message is a copy; subscribers must not share it back.
type MessageEvent struct {
	ConversationID string
	Message        store.Message
}

// SendEvent is published on TopicSendCompleted / TopicSendFailed.
type SendEvent struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	Error              string
}

// Options wires the runner's collaborators.
type Options struct {
	Store       store.ConversationStore
	Providers   *ai.Registry
	Context     *health.ContextBuilder
	Injector    *ai.Injector
	Coordinator *stream.Coordinator
	Reporter    *report.Reporter
	Bus         *events.Bus
	Retry       retry.Policy
	Persona     string
	Categories  []health.Category
	TokenBudget int
	Streaming   bool
	Logger      *slog.Logger
}

// Runner is the message lifecycle manager. It owns the conversation working
// set: all mutations are serialized behind its mutex, and no lock is held
// across store or provider calls.
type Runner struct {
	mu     sync.Mutex
	active *store.Conversation
	online bool

	store       store.ConversationStore
	providers   *ai.Registry
	builder     *health.ContextBuilder
	injector    *ai.Injector
	coord       *stream.Coordinator
	reporter    *report.Reporter
	bus         *events.Bus
	policy      retry.Policy
	persona     string
	categories  []health.Category
	tokenBudget int
	streaming   bool
	logger      *slog.Logger
}

// New creates a runner. Store and Providers are required; everything else
// has a workable default.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	injector := opts.Injector
	if injector == nil {
		injector = ai.NewInjector()
	}
	coord := opts.Coordinator
	if coord == nil {
		coord = stream.NewCoordinator()
	}
	return &Runner{
		online:      true,
		store:       opts.Store,
		providers:   opts.Providers,
		builder:     opts.Context,
		injector:    injector,
		coord:       coord,
		reporter:    opts.Reporter,
		bus:         opts.Bus,
		policy:      opts.Retry,
		persona:     opts.Persona,
		categories:  opts.Categories,
		tokenBudget: opts.TokenBudget,
		streaming:   opts.Streaming,
		logger:      logger,
	}
}

// SetOnline feeds the externally determined connectivity flag. Provider
// TestConnection results stay advisory; this flag is the only thing that
// gates a send.
func (r *Runner) SetOnline(online bool) {
	r.mu.Lock()
	r.online = online
	r.mu.Unlock()
}

// Online returns the current connectivity flag.
func (r *Runner) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// NewConversation creates, persists, and activates a conversation.
func (r *Runner) NewConversation(ctx context.Context, title string, categories []health.Category) (*store.Conversation, error) {
	if categories == nil {
		categories = r.categories
	}
	c := store.NewConversation(title, categories)
	if err := r.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	r.mu.Lock()
	r.active = c
	r.mu.Unlock()
	return c, nil
}

// SetActiveConversation loads a stored conversation into the working set.
func (r *Runner) SetActiveConversation(ctx context.Context, id string) error {
	convs, err := r.store.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	for _, c := range convs {
		if c.ID == id {
			r.mu.Lock()
			r.active = c
			r.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("conversation %s not found", id)
}

// ActiveConversation returns the current working-set conversation, or nil.
func (r *Runner) ActiveConversation() *store.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Send delivers a message on the blocking path and returns the assistant
// reply once the provider call resolves.
func (r *Runner) Send(ctx context.Context, content string) (*store.Message, error) {
	return r.submit(ctx, content, false)
}

// SendStreaming delivers a message on the streaming path: an empty assistant
// placeholder is appended immediately, partial content flows through the
// coordinator (observable via message-updated events), and the call returns
// the finalized assistant message.
func (r *Runner) SendStreaming(ctx context.Context, content string) (*store.Message, error) {
	return r.submit(ctx, content, true)
}

// RetryMessage re-enters dispatch for a failed user message, reusing its
// original content with a freshly rebuilt context. A message that cannot
// retry (not failed, or not user-role) is a no-op.
func (r *Runner) RetryMessage(ctx context.Context, messageID string) error {
	r.mu.Lock()
	conv := r.active
	var msg *store.Message
	if conv != nil {
		msg = conv.MessageByID(messageID)
	}
	if msg == nil || !msg.CanRetry() {
		r.mu.Unlock()
		return nil
	}
	msg.Status = store.StatusRetrying
	msg.ErrorText = ""
	msgCopy := *msg
	r.mu.Unlock()

	if err := r.store.UpdateMessage(ctx, conv.ID, &msgCopy); err != nil {
		r.logger.Warn("failed to persist retrying status", "message", messageID, "error", err)
	}
	r.publishMessage(conv, msg)

	_, err := r.deliver(ctx, conv, msg, r.streaming, "chat.retry")
	return err
}

// submit runs preconditions, persists the user message, and delivers it.
func (r *Runner) submit(ctx context.Context, content string, streaming bool) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	r.mu.Lock()
	if !r.online {
		r.mu.Unlock()
		return nil, ErrNotConnected
	}
	conv := r.active
	r.mu.Unlock()
	if conv == nil {
		return nil, ErrNoActiveConversation
	}

	user := store.NewUserMessage(content)

	// Persist before any provider call. A store failure aborts the attempt:
	// never charge for inference against an unpersisted message.
	if err := r.store.AddMessage(ctx, conv.ID, user); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	r.mu.Lock()
	conv.Messages = append(conv.Messages, user)
	r.mu.Unlock()
	r.publishMessage(conv, user)

	return r.deliver(ctx, conv, user, streaming, "chat.send")
}

// deliver drives a persisted user message through contextBuilt → dispatched
// and every terminal transition.
func (r *Runner) deliver(ctx context.Context, conv *store.Conversation, user *store.Message, streaming bool, reportCtx string) (*store.Message, error) {
	provider, err := r.providers.Active()
	if err != nil {
		r.fail(ctx, conv, user, "", reportCtx, err)
		return nil, err
	}

	// Turn counts captured before any placeholder mutates them.
	r.mu.Lock()
	userCount := conv.CountByRole(store.RoleUser)
	assistantCount := conv.CountByRole(store.RoleAssistant)
	firstTurn := ai.FirstTurn(userCount, assistantCount)
	categories := conv.Categories
	r.mu.Unlock()
	if len(categories) == 0 {
		categories = r.categories
	}

	// Context build never fails the send.
	cctx := r.builder.Build(ctx, categories, r.tokenBudget)

	req := &ai.ChatRequest{
		Content:      user.Content,
		Context:      cctx.Text,
		SystemPrompt: r.persona,
	}
	if firstTurn && r.injector.RequiresInjection(provider.Model()) {
		req = &ai.ChatRequest{
			Content: r.injector.FormatFirstMessage(user.Content, r.persona, cctx.Text),
		}
	}

	r.setStatus(ctx, conv, user, store.StatusSending)

	var assistant *store.Message
	if streaming {
		assistant, err = r.dispatchStreaming(ctx, conv, provider, req)
	} else {
		assistant, err = r.dispatchBlocking(ctx, conv, provider, req)
	}
	if err != nil {
		var placeholderID string
		if assistant != nil {
			placeholderID = assistant.ID
		}
		r.fail(ctx, conv, user, placeholderID, reportCtx, err)
		return nil, err
	}

	r.setStatus(ctx, conv, user, store.StatusSent)
	r.publishSend(events.TopicSendCompleted, conv, user, assistant, nil)
	if r.reporter != nil {
		r.reporter.ClearRetry(user.ID)
	}
	if firstTurn {
		r.maybeTitle(ctx, conv, user.Content)
	}
	return assistant, nil
}

// dispatchBlocking appends the assistant message only after the provider
// call resolves.
func (r *Runner) dispatchBlocking(ctx context.Context, conv *store.Conversation, provider ai.Provider, req *ai.ChatRequest) (*store.Message, error) {
	outcome := retry.Run(ctx, r.policy, func(ctx context.Context) (*ai.Response, error) {
		return provider.Send(ctx, req)
	}, retry.WithClassifier(ai.IsRetryable), retry.WithOnRetry(r.logRetry(provider)))
	if !outcome.OK() {
		return nil, outcome.Err
	}
	resp := outcome.Value

	assistant := store.NewAssistantPlaceholder()
	assistant.Content = resp.Content
	assistant.Status = store.StatusSent
	assistant.TokenCount = resp.TokenCount
	assistant.Duration = resp.ResponseTime

	if err := r.store.AddMessage(ctx, conv.ID, assistant); err != nil {
		return nil, fmt.Errorf("failed to persist reply: %w", err)
	}

	r.mu.Lock()
	conv.Messages = append(conv.Messages, assistant)
	r.mu.Unlock()
	r.publishMessage(conv, assistant)
	return assistant, nil
}

// dispatchStreaming appends an empty placeholder immediately and feeds
// partial content through the coordinator. On failure the placeholder is
// returned alongside the error so the caller can retract it.
func (r *Runner) dispatchStreaming(ctx context.Context, conv *store.Conversation, provider ai.Provider, req *ai.ChatRequest) (*store.Message, error) {
	placeholder := store.NewAssistantPlaceholder()

	r.mu.Lock()
	conv.Messages = append(conv.Messages, placeholder)
	r.mu.Unlock()
	r.publishMessage(conv, placeholder)

	sink := &conversationSink{runner: r, conv: conv}
	started := time.Now()

	outcome := retry.Run(ctx, r.policy, func(ctx context.Context) (*ai.Response, error) {
		return r.consumeStream(ctx, provider, req, placeholder.ID, sink)
	}, retry.WithClassifier(ai.IsRetryable), retry.WithOnRetry(r.logRetry(provider)))
	if !outcome.OK() {
		return placeholder, outcome.Err
	}
	resp := outcome.Value

	// Finalize wins over any pending debounced partial.
	r.coord.Finalize(placeholder.ID, resp.Content, sink)
	r.coord.Release(placeholder.ID)

	duration := resp.ResponseTime
	if duration == 0 {
		duration = time.Since(started)
	}

	r.mu.Lock()
	placeholder.Status = store.StatusSent
	placeholder.TokenCount = resp.TokenCount
	placeholder.Duration = duration
	msgCopy := *placeholder
	r.mu.Unlock()

	// The placeholder lived only in the working set until now; it is
	// persisted once, finalized.
	if err := r.store.AddMessage(ctx, conv.ID, &msgCopy); err != nil {
		return placeholder, fmt.Errorf("failed to persist reply: %w", err)
	}
	r.publishMessage(conv, placeholder)
	return placeholder, nil
}

// consumeStream accumulates deltas into monotonically growing content and
// hands each snapshot to the coordinator.
func (r *Runner) consumeStream(ctx context.Context, provider ai.Provider, req *ai.ChatRequest, placeholderID string, sink stream.Sink) (*ai.Response, error) {
	ch, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for evt := range ch {
		switch evt.Type {
		case ai.EventTypeText:
			content.WriteString(evt.Text)
			r.coord.Schedule(placeholderID, content.String(), sink)
		case ai.EventTypeDone:
			return evt.Response, nil
		case ai.EventTypeError:
			return nil, evt.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("stream ended without completion")
}

// fail marks the USER message failed (the placeholder, if any, is
// retracted), reports the error, and registers a retry handle for
// retryable failures.
func (r *Runner) fail(ctx context.Context, conv *store.Conversation, user *store.Message, placeholderID, reportCtx string, cause error) {
	if placeholderID != "" {
		r.coord.Release(placeholderID)
		r.mu.Lock()
		for i, m := range conv.Messages {
			if m.ID == placeholderID {
				conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	user.Status = store.StatusFailed
	user.ErrorText = cause.Error()
	msgCopy := *user
	r.mu.Unlock()

	if err := r.store.UpdateMessage(ctx, conv.ID, &msgCopy); err != nil {
		r.logger.Error("failed to persist failed status", "message", user.ID, "error", err)
	}
	r.publishMessage(conv, user)
	r.publishSend(events.TopicSendFailed, conv, user, nil, cause)

	r.logger.Error("send failed", "conversation", conv.ID, "message", user.ID, "error", cause)

	if r.reporter == nil {
		return
	}
	if ai.IsRetryable(cause) {
		userID := user.ID
		r.reporter.RetryableError(reportCtx, userID, cause, func(ctx context.Context) error {
			return r.RetryMessage(ctx, userID)
		})
	} else {
		r.reporter.Error(reportCtx, cause)
	}
}

// setStatus transitions a message status, persists it, and publishes the
// update. Post-persist transitions are best-effort: a failure is logged,
// not fatal.
func (r *Runner) setStatus(ctx context.Context, conv *store.Conversation, msg *store.Message, status store.Status) {
	r.mu.Lock()
	msg.Status = status
	msgCopy := *msg
	r.mu.Unlock()

	if err := r.store.UpdateMessage(ctx, conv.ID, &msgCopy); err != nil {
		r.logger.Warn("failed to persist status", "message", msg.ID, "status", status, "error", err)
	}
	r.publishMessage(conv, msg)
}

// maybeTitle derives a title from the first user message after the
// conversation's first completed exchange. Local derivation only.
func (r *Runner) maybeTitle(ctx context.Context, conv *store.Conversation, firstUserMessage string) {
	r.mu.Lock()
	if conv.Title != "" {
		r.mu.Unlock()
		return
	}
	conv.Title = store.DeriveTitle(firstUserMessage)
	convCopy := *conv
	r.mu.Unlock()

	if err := r.store.Update(ctx, &convCopy); err != nil {
		r.logger.Warn("failed to persist conversation title", "conversation", conv.ID, "error", err)
	}
}

func (r *Runner) logRetry(provider ai.Provider) retry.OnRetryFunc {
	return func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("retrying send",
			"provider", provider.ID(),
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}
}

func (r *Runner) publishMessage(conv *store.Conversation, msg *store.Message) {
	if r.bus == nil {
		return
	}
	r.mu.Lock()
	msgCopy := *msg
	r.mu.Unlock()
	r.bus.Publish(events.TopicMessageUpdated, MessageEvent{
		ConversationID: conv.ID,
		Message:        msgCopy,
	})
}

func (r *Runner) publishSend(topic string, conv *store.Conversation, user, assistant *store.Message, cause error) {
	if r.bus == nil {
		return
	}
	evt := SendEvent{
		ConversationID: conv.ID,
		UserMessageID:  user.ID,
	}
	if assistant != nil {
		evt.AssistantMessageID = assistant.ID
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	r.bus.Publish(topic, evt)
}

// conversationSink applies coordinator output to the working set under the
// runner's mutex. It is the only path streaming goroutines have into shared
// state.
type conversationSink struct {
	runner *Runner
	conv   *store.Conversation
}

func (s *conversationSink) ApplyContent(messageID, content string) {
	r := s.runner

	r.mu.Lock()
	msg := s.conv.MessageByID(messageID)
	if msg == nil {
		r.mu.Unlock()
		return
	}
	msg.Content = content
	msgCopy := *msg
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.TopicMessageUpdated, MessageEvent{
			ConversationID: s.conv.ID,
			Message:        msgCopy,
		})
	}
}
