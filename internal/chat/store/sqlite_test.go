package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalhq/pulse/internal/chat/health"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("Blood pressure questions", []health.Category{health.CategoryVitals})
	c.Messages = append(c.Messages, NewUserMessage("What was my last reading?"))
	require.NoError(t, s.Save(ctx, c))

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, c.ID, convs[0].ID)
	require.Equal(t, "Blood pressure questions", convs[0].Title)
	require.Equal(t, []health.Category{health.CategoryVitals}, convs[0].Categories)
	require.Len(t, convs[0].Messages, 1)
	require.Equal(t, RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, StatusPending, convs[0].Messages[0].Status)
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("ordering", nil)
	require.NoError(t, s.Save(ctx, c))

	// Identical CreatedAt seconds must not scramble order.
	now := time.Now()
	for _, content := range []string{"first", "second", "third"} {
		m := NewUserMessage(content)
		m.CreatedAt = now
		require.NoError(t, s.AddMessage(ctx, c.ID, m))
	}

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs[0].Messages, 3)
	require.Equal(t, "first", convs[0].Messages[0].Content)
	require.Equal(t, "third", convs[0].Messages[2].Content)
}

func TestUpdateMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("lifecycle", nil)
	m := NewUserMessage("hello")
	c.Messages = append(c.Messages, m)
	require.NoError(t, s.Save(ctx, c))

	m.Status = StatusFailed
	m.ErrorText = "connection refused"
	require.NoError(t, s.UpdateMessage(ctx, c.ID, m))

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	got := convs[0].Messages[0]
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "connection refused", got.ErrorText)
	require.True(t, got.CanRetry())

	// Identity is stable across transitions.
	require.Equal(t, m.ID, got.ID)

	m.Status = StatusSent
	m.ErrorText = ""
	m.TokenCount = 42
	m.Duration = 1250 * time.Millisecond
	require.NoError(t, s.UpdateMessage(ctx, c.ID, m))

	convs, err = s.Conversations(ctx)
	require.NoError(t, err)
	got = convs[0].Messages[0]
	require.Equal(t, StatusSent, got.Status)
	require.Empty(t, got.ErrorText)
	require.Equal(t, 42, got.TokenCount)
	require.Equal(t, 1250*time.Millisecond, got.Duration)
}

func TestUpdateMessageUnknownID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("x", nil)
	require.NoError(t, s.Save(ctx, c))

	m := NewUserMessage("ghost")
	require.Error(t, s.UpdateMessage(ctx, c.ID, m))
}

func TestDeleteCascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("doomed", nil)
	c.Messages = append(c.Messages, NewUserMessage("bye"))
	require.NoError(t, s.Save(ctx, c))
	require.NoError(t, s.Delete(ctx, c.ID))

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	require.Empty(t, convs)

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Messages)
}

func TestClearMessagesKeepsConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("keep me", nil)
	c.Messages = append(c.Messages, NewUserMessage("a"), NewUserMessage("b"))
	require.NoError(t, s.Save(ctx, c))
	require.NoError(t, s.ClearMessages(ctx, c.ID))

	convs, err := s.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Empty(t, convs[0].Messages)
}

func TestSearchMatchesTitleAndContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := NewConversation("Cholesterol results", nil)
	a.Messages = append(a.Messages, NewUserMessage("What does LDL mean?"))
	require.NoError(t, s.Save(ctx, a))

	b := NewConversation("Sleep", nil)
	b.Messages = append(b.Messages, NewUserMessage("How much deep sleep is normal?"))
	require.NoError(t, s.Save(ctx, b))

	byTitle, err := s.Search(ctx, "cholesterol")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	require.Equal(t, a.ID, byTitle[0].ID)

	byContent, err := s.Search(ctx, "deep sleep")
	require.NoError(t, err)
	require.Len(t, byContent, 1)
	require.Equal(t, b.ID, byContent[0].ID)
	require.Len(t, byContent[0].Messages, 1)

	none, err := s.Search(ctx, "zebra")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := NewConversation("stats", nil)
	require.NoError(t, s.Save(ctx, c))

	ok := NewUserMessage("fine")
	ok.Status = StatusSent
	ok.TokenCount = 10
	require.NoError(t, s.AddMessage(ctx, c.ID, ok))

	bad := NewUserMessage("broken")
	bad.Status = StatusFailed
	require.NoError(t, s.AddMessage(ctx, c.ID, bad))

	reply := NewAssistantPlaceholder()
	reply.Status = StatusSent
	reply.TokenCount = 25
	require.NoError(t, s.AddMessage(ctx, c.ID, reply))

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Conversations)
	require.Equal(t, 3, st.Messages)
	require.Equal(t, 1, st.FailedMessages)
	require.Equal(t, 35, st.TotalTokens)
}

func TestDeriveTitle(t *testing.T) {
	require.Equal(t, "Hello", DeriveTitle("  Hello \n"))

	long := "Can you explain what my latest lab results mean for my overall health picture"
	title := DeriveTitle(long)
	require.LessOrEqual(t, len([]rune(title)), 54)
	require.Contains(t, title, "…")
}

func TestCanRetryOnlyFailedUserMessages(t *testing.T) {
	m := NewUserMessage("x")
	require.False(t, m.CanRetry())

	m.Status = StatusFailed
	require.True(t, m.CanRetry())

	a := NewAssistantPlaceholder()
	a.Status = StatusFailed
	require.False(t, a.CanRetry())
}
