// Package store defines the conversation working-set types and the
// persistence interface the pipeline talks to, plus the SQLite
// implementation used by the app.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitalhq/pulse/internal/chat/health"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is a message's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusStreaming Status = "streaming"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// Message is one conversation message. Its identity never changes across
// lifecycle transitions; content and status do. Content stays mutable while
// the message streams.
type Message struct {
	ID         string        `json:"id"`
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	Status     Status        `json:"status"`
	ErrorText  string        `json:"error_text,omitempty"`
	TokenCount int           `json:"token_count,omitempty"` // 0 = unreported
	Duration   time.Duration `json:"duration,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// CanRetry reports whether the message may transition to retrying: only
// failed user messages qualify.
func (m *Message) CanRetry() bool {
	return m.Status == StatusFailed && m.Role == RoleUser
}

// NewUserMessage constructs a pending user message.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// NewAssistantPlaceholder constructs the empty streaming placeholder the UI
// renders into while partial content arrives.
func NewAssistantPlaceholder() *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   "",
		Status:    StatusStreaming,
		CreatedAt: time.Now(),
	}
}

// Conversation is an ordered, append-only sequence of messages plus the
// record categories selected for context building. The only in-place
// mutation allowed is of the most recent streaming placeholder.
type Conversation struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Messages   []*Message        `json:"messages"`
	Categories []health.Category `json:"categories,omitempty"`
	Archived   bool              `json:"archived"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// NewConversation constructs an empty conversation.
func NewConversation(title string, categories []health.Category) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:         uuid.New().String(),
		Title:      title,
		Categories: categories,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MessageByID returns the message with the given identity, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// CountByRole returns the number of messages with the given role.
func (c *Conversation) CountByRole(role Role) int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// DeriveTitle produces a conversation title from its first user message.
func DeriveTitle(firstUserMessage string) string {
	title := strings.TrimSpace(firstUserMessage)
	title = strings.ReplaceAll(title, "\n", " ")
	const maxTitle = 50
	if len(title) > maxTitle {
		if idx := strings.LastIndexByte(title[:maxTitle], ' '); idx > 20 {
			return title[:idx] + "…"
		}
		return title[:maxTitle] + "…"
	}
	return title
}

// Statistics summarizes the stored chat history.
type Statistics struct {
	Conversations  int `json:"conversations"`
	Messages       int `json:"messages"`
	FailedMessages int `json:"failed_messages"`
	TotalTokens    int `json:"total_tokens"`
}

// ConversationStore persists conversations and messages. Message updates
// are last-write-wins per message identity.
type ConversationStore interface {
	Conversations(ctx context.Context) ([]*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Update(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, id string) error

	AddMessage(ctx context.Context, conversationID string, m *Message) error
	UpdateMessage(ctx context.Context, conversationID string, m *Message) error
	ClearMessages(ctx context.Context, conversationID string) error

	Search(ctx context.Context, query string) ([]*Conversation, error)
	Statistics(ctx context.Context) (*Statistics, error)
}
