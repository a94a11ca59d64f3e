package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/vitalhq/pulse/internal/chat/health"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore implements ConversationStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path, runs
// migrations, and returns the store.
func NewSQLite(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode and single connection (no concurrency)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well; serialize all access
	// through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Conversations returns all conversations with their messages, most
// recently updated first.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, categories, archived, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	byID := make(map[string]*Conversation)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, id, role, content, status, error_text, token_count, duration_ms, created_at
		 FROM messages ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var convID string
		m, err := scanMessage(msgRows, &convID)
		if err != nil {
			return nil, err
		}
		if c, ok := byID[convID]; ok {
			c.Messages = append(c.Messages, m)
		}
	}
	return convs, msgRows.Err()
}

// Save inserts a conversation and any messages it already carries.
func (s *SQLiteStore) Save(ctx context.Context, c *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, categories, archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, encodeCategories(c.Categories), boolInt(c.Archived),
		c.CreatedAt.Unix(), c.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	for _, m := range c.Messages {
		if err := insertMessage(ctx, tx, c.ID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Update rewrites a conversation's metadata (title, categories, archived
// flag) and bumps its updated_at. Messages are managed through AddMessage
// and UpdateMessage.
func (s *SQLiteStore) Update(ctx context.Context, c *Conversation) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, categories = ?, archived = ?, updated_at = ? WHERE id = ?`,
		c.Title, encodeCategories(c.Categories), boolInt(c.Archived), c.UpdatedAt.Unix(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return requireRow(res, "conversation", c.ID)
}

// Delete removes a conversation; messages cascade.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation.
func (s *SQLiteStore) AddMessage(ctx context.Context, conversationID string, m *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, conversationID, m); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().Unix(), conversationID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateMessage rewrites a message in place. Last write wins.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, conversationID string, m *Message) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, status = ?, error_text = ?, token_count = ?, duration_ms = ?
		 WHERE id = ? AND conversation_id = ?`,
		m.Content, string(m.Status), nullString(m.ErrorText), m.TokenCount,
		m.Duration.Milliseconds(), m.ID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return requireRow(res, "message", m.ID)
}

// ClearMessages removes all messages from a conversation, keeping the
// conversation itself.
func (s *SQLiteStore) ClearMessages(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// Search returns conversations whose title or any message content matches
// the query, case-insensitively.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]*Conversation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Conversations(ctx)
	}
	pattern := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT c.id, c.title, c.categories, c.archived, c.created_at, c.updated_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE lower(c.title) LIKE ? OR lower(m.content) LIKE ?
		 ORDER BY c.updated_at DESC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range convs {
		msgs, err := s.messages(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Messages = msgs
	}
	return convs, nil
}

// Statistics summarizes the stored history.
func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	var st Statistics
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE status = 'failed'),
			(SELECT COALESCE(SUM(token_count), 0) FROM messages)`).
		Scan(&st.Conversations, &st.Messages, &st.FailedMessages, &st.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) messages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, id, role, content, status, error_text, token_count, duration_ms, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY rowid ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var convID string
		m, err := scanMessage(rows, &convID)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, m *Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, status, error_text, token_count, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, conversationID, string(m.Role), m.Content, string(m.Status),
		nullString(m.ErrorText), m.TokenCount, m.Duration.Milliseconds(), m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func scanConversation(rows *sql.Rows) (*Conversation, error) {
	var c Conversation
	var categories sql.NullString
	var archived int
	var createdAt, updatedAt int64
	if err := rows.Scan(&c.ID, &c.Title, &categories, &archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Categories = decodeCategories(categories.String)
	c.Archived = archived != 0
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

func scanMessage(rows *sql.Rows, conversationID *string) (*Message, error) {
	var m Message
	var role, status string
	var errText sql.NullString
	var durationMS, createdAt int64
	if err := rows.Scan(conversationID, &m.ID, &role, &m.Content, &status,
		&errText, &m.TokenCount, &durationMS, &createdAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.Status = Status(status)
	m.ErrorText = errText.String
	m.Duration = time.Duration(durationMS) * time.Millisecond
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}

// encodeCategories stores the category filter as a comma-separated string;
// empty filter stores as NULL.
func encodeCategories(cats []health.Category) sql.NullString {
	if len(cats) == 0 {
		return sql.NullString{}
	}
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func decodeCategories(raw string) []health.Category {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	cats := make([]health.Category, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cats = append(cats, health.Category(p))
		}
	}
	return cats
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}
