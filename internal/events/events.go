// Package events provides the lifecycle event bus that decouples the chat
// pipeline from any rendering layer. The orchestrator publishes message and
// send lifecycle events; a UI subscribes to the topics it cares about.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// handlerTimeout bounds how long a single subscriber may block delivery.
const handlerTimeout = 10 * time.Second

// Handler is called for every event published to a subscribed topic.
type Handler func(context.Context, any) error

// Subscription identifies an active subscriber and can cancel it.
type Subscription struct {
	Topic       string
	ID          string
	Unsubscribe func()
}

// Bus is a topic-keyed publish/subscribe hub. Publishing never blocks the
// caller; handlers run on the bus goroutine so a single subscriber sees
// events in publication order.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[string]Handler
	nextID int

	events   chan envelope
	shutdown chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

type envelope struct {
	topic string
	value any
}

// NewBus creates a bus and starts its delivery loop.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:     make(map[string]map[string]Handler),
		events:   make(chan envelope, 256),
		shutdown: make(chan struct{}),
		logger:   logger,
	}
	go b.loop()
	return b
}

// Publish emits value on topic. It drops the event with a log entry if the
// bus buffer is full rather than stalling the pipeline.
func (b *Bus) Publish(topic string, value any) {
	select {
	case b.events <- envelope{topic: topic, value: value}:
	case <-b.shutdown:
	default:
		b.logger.Warn("event bus full, dropping event", "topic", topic)
	}
}

// Subscribe registers a typed handler for topic. A payload that is not a T
// is logged and skipped, never a panic.
func Subscribe[T any](b *Bus, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := Handler(func(ctx context.Context, value any) error {
		typed, ok := value.(T)
		if !ok {
			return fmt.Errorf("event on %q is %T, subscriber wants %T", topic, value, *new(T))
		}
		return handler(ctx, typed)
	})

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("%s-%d", topic, b.nextID)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]Handler)
	}
	b.subs[topic][id] = wrapped
	b.mu.Unlock()

	return Subscription{
		Topic: topic,
		ID:    id,
		Unsubscribe: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		},
	}
}

// Close stops the delivery loop. Idempotent.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.shutdown)
	})
}

func (b *Bus) loop() {
	for {
		select {
		case <-b.shutdown:
			return
		case evt := <-b.events:
			b.deliver(evt)
		}
	}
}

func (b *Bus) deliver(evt envelope) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[evt.topic]))
	for _, h := range b.subs[evt.topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		if err := h(ctx, evt.value); err != nil {
			b.logger.Debug("event handler error", "topic", evt.topic, "error", err)
		}
		cancel()
	}
}
