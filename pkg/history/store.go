package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/wpscholar/wp-mcp/internal/observability"
)

const (
	// RoleUser marks a message written by the human user.
	RoleUser = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant = "assistant"

	// DefaultMaxMessages is the per-session sliding window size.
	DefaultMaxMessages = 100
	// DefaultContentCap is the maximum stored length of message content in runes.
	DefaultContentCap = 50000
	// DefaultRetentionDays is how long an idle session survives before the sweep removes it.
	DefaultRetentionDays = 30
)

// ErrNotOwner is returned when a caller addresses a session owned by another user.
var ErrNotOwner = errors.New("session is owned by another user")

// Message represents a single conversation turn.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolCall records a tool invocation requested by the completion provider.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult records the outcome of executing one ToolCall. Exactly one of
// Content or Error is meaningful; Error is the empty string on success.
type ToolResult struct {
	CallID  string `json:"callId"`
	Content any    `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether this result captured an execution error.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Options configures a Store.
type Options struct {
	Path        string // SQLite database file path
	MaxMessages int    // sliding window size, DefaultMaxMessages when zero
	ContentCap  int    // content rune cap, DefaultContentCap when zero
	Disabled    bool   // when set, Append is a no-op and Read returns nothing
	Logger      zerolog.Logger
}

// Store is a durable keyed store of ordered message lists per session.
type Store struct {
	db          *sql.DB
	maxMessages int
	contentCap  int
	disabled    bool
	logger      zerolog.Logger
}

// Open opens (creating if needed) the SQLite-backed store.
func Open(opts Options) (*Store, error) {
	observability.EnsureRegistered()

	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}
	if opts.MaxMessages == 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.MaxMessages < 1 {
		return nil, fmt.Errorf("max messages must be positive, got %d", opts.MaxMessages)
	}
	if opts.ContentCap == 0 {
		opts.ContentCap = DefaultContentCap
	}
	if opts.ContentCap < 1 {
		return nil, fmt.Errorf("content cap must be positive, got %d", opts.ContentCap)
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps sweeps from blocking request-path reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:          db,
		maxMessages: opts.MaxMessages,
		contentCap:  opts.ContentCap,
		disabled:    opts.Disabled,
		logger:      opts.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().
		Str("path", opts.Path).
		Int("max_messages", opts.MaxMessages).
		Bool("disabled", opts.Disabled).
		Msg("History store opened")

	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			messages   TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`)
	return err
}

// validateSessionID validates a caller-supplied session identifier.
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id cannot be empty")
	}
	if strings.Contains(sessionID, "\x00") {
		return errors.New("session id cannot contain null bytes")
	}
	if len(sessionID) > 191 {
		return errors.New("session id too long")
	}
	return nil
}

// Append appends a message to the session, creating the session on first
// write. Eviction runs in the same transaction, so a session row never holds
// more than the configured maximum.
func (s *Store) Append(ctx context.Context, sessionID, userID string, msg Message) error {
	if s.disabled {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordHistorySave(time.Since(start))
	}()

	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("user id cannot be empty")
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}

	if msg.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to mint message id: %w", err)
		}
		msg.ID = id
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Content = truncateContent(msg.Content, s.contentCap)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	var rawMessages string
	exists := true
	err = tx.QueryRowContext(ctx,
		"SELECT user_id, messages FROM sessions WHERE id = ?", sessionID,
	).Scan(&ownerID, &rawMessages)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return fmt.Errorf("failed to load session: %w", err)
	case ownerID != userID:
		return ErrNotOwner
	}

	var messages []Message
	if exists {
		if err := json.Unmarshal([]byte(rawMessages), &messages); err != nil {
			// A corrupt row loses its history but stays usable.
			s.logger.Warn().
				Str("session_id", sessionID).
				Err(err).
				Msg("Discarding unreadable message list")
			messages = nil
		}
	}

	messages = append(messages, msg)
	if len(messages) > s.maxMessages {
		messages = messages[len(messages)-s.maxMessages:]
	}

	encoded, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	now := time.Now().UnixMilli()
	if exists {
		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET messages = ?, updated_at = ? WHERE id = ?",
			string(encoded), now, sessionID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO sessions (id, user_id, messages, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			sessionID, userID, string(encoded), now, now,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("role", msg.Role).
		Int("messages", len(messages)).
		Msg("Message appended")

	return nil
}

// Read returns at most the last limit messages of the session in append
// order. A missing session yields an empty slice, not an error.
func (s *Store) Read(ctx context.Context, sessionID, userID string, limit int) ([]Message, error) {
	if s.disabled {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		observability.RecordHistoryLoad(time.Since(start))
	}()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errors.New("user id cannot be empty")
	}

	var ownerID string
	var rawMessages string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, messages FROM sessions WHERE id = ?", sessionID,
	).Scan(&ownerID, &rawMessages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if ownerID != userID {
		return nil, ErrNotOwner
	}

	var messages []Message
	if err := json.Unmarshal([]byte(rawMessages), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

// SweepExpired deletes sessions whose last update is older than retentionDays
// and reports how many rows were removed. The delete is row-scoped and safe
// to run concurrently with appends and reads.
func (s *Store) SweepExpired(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE updated_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept sessions: %w", err)
	}

	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Int("retention_days", retentionDays).
			Msg("Expired sessions removed")
	}
	s.updateActiveSessionsMetric(ctx)

	return int(removed), nil
}

// CountSessions returns the number of stored sessions.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (s *Store) updateActiveSessionsMetric(ctx context.Context) {
	n, err := s.CountSessions(ctx)
	if err != nil {
		return
	}
	observability.SetActiveSessions(n)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// truncationMarker is appended when content is cut at the cap.
const truncationMarker = "\n... [content truncated]"

// truncateContent caps content at n runes. The marker counts against the cap
// so stored content never exceeds it; caps too small to fit the marker get a
// bare cut.
func truncateContent(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}

	marker := []rune(truncationMarker)
	if n <= len(marker) {
		return string(runes[:n])
	}
	return string(runes[:n-len(marker)]) + truncationMarker
}
