// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/interaction persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id    TEXT,
			started_at TEXT NOT NULL,
			ended_at   TEXT,
			active     INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_active
			ON conversations(active, started_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			from_user       INTEGER NOT NULL,
			content         TEXT NOT NULL,
			agent_type      TEXT NOT NULL DEFAULT '',
			seq             INTEGER NOT NULL,
			metadata        TEXT,
			sensitive       INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS interactions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_type      TEXT NOT NULL,
			action          TEXT NOT NULL,
			success         INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL,
			error_text      TEXT,
			context         TEXT,
			confidence      REAL NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			CHECK (confidence >= 0.0 AND confidence <= 1.0)
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_conversation
			ON interactions(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
		table  string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'sensitive'`,
			apply:  `ALTER TABLE messages ADD COLUMN sensitive INTEGER NOT NULL DEFAULT 0`,
			column: "sensitive",
			table:  "messages",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('interactions') WHERE name = 'confidence'`,
			apply:  `ALTER TABLE interactions ADD COLUMN confidence REAL NOT NULL DEFAULT 0`,
			column: "confidence",
			table:  "interactions",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation creates a new conversation.
// Returns ErrDuplicateConversation if the ID is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, session_id, user_id, started_at, ended_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.SessionID,
		nullString(conv.UserID),
		conv.StartedAt.UTC().Format(time.RFC3339Nano),
		nullTime(conv.EndedAt),
		boolToInt(conv.Active),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "session_id", conv.SessionID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, session_id, user_id, started_at, ended_at, active
		FROM conversations
		WHERE id = ?
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// EndConversation marks a conversation inactive and stamps its end time.
// Returns ErrNotFound for unknown IDs and ErrConversationEnded when the
// conversation was already closed.
func (s *SQLiteStore) EndConversation(ctx context.Context, id string, endedAt time.Time) error {
	query := `
		UPDATE conversations
		SET active = 0, ended_at = ?
		WHERE id = ? AND active = 1
	`

	result, err := s.db.ExecContext(ctx, query, endedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetConversation(ctx, id); err == nil {
			return ErrConversationEnded
		}
		return ErrNotFound
	}

	s.logger.Debug("ended conversation", "id", id)
	return nil
}

// ListActiveConversations returns active conversations ordered newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListActiveConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, session_id, user_id, started_at, ended_at, active
		FROM conversations
		WHERE active = 1
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying active conversations: %w", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

// ListIdleConversations returns active conversations whose latest activity
// (last message, or start time when empty) is at or before the cutoff.
// Used by the idle reaper to close abandoned sessions.
func (s *SQLiteStore) ListIdleConversations(ctx context.Context, before time.Time, limit int) ([]*Conversation, error) {
	limit = clampLimit(limit)
	cutoff := before.UTC().Format(time.RFC3339Nano)

	query := `
		SELECT c.id, c.session_id, c.user_id, c.started_at, c.ended_at, c.active
		FROM conversations c
		WHERE c.active = 1
		  AND COALESCE(
			(SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id),
			c.started_at
		  ) <= ?
		ORDER BY c.started_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("querying idle conversations: %w", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

// AppendMessage inserts a message, assigning the next sequence number for its
// conversation atomically in the insert statement. The single-writer discipline
// of SQLite keeps the MAX(seq)+1 computation race-free, so sequence numbers
// stay gapless even under concurrent callers.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	if msg.ConversationID == "" {
		return 0, fmt.Errorf("conversation_id is required")
	}

	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return 0, err
	}
	if !conv.Active {
		return 0, ErrConversationEnded
	}

	query := `
		INSERT INTO messages (id, conversation_id, from_user, content, agent_type, seq, metadata, sensitive, created_at)
		SELECT ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
		FROM messages
		WHERE conversation_id = ?
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		boolToInt(msg.FromUser),
		msg.Content,
		msg.AgentType,
		nullString(msg.Metadata),
		boolToInt(msg.Sensitive),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.ConversationID,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM messages WHERE id = ?`, msg.ID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reading assigned sequence: %w", err)
	}
	msg.Sequence = seq

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"seq", seq,
		"from_user", msg.FromUser)
	return seq, nil
}

// ListMessages retrieves up to limit messages for a conversation.
// With ascending=true the result is in sequence order (oldest first) and the
// limit keeps the most recent messages; with ascending=false the result is
// newest first. If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, ascending bool) ([]*Message, error) {
	var query string
	var args []any

	switch {
	case limit > 0 && ascending:
		// Keep the most recent N, then flip back to chronological order
		query = `
			SELECT id, conversation_id, from_user, content, agent_type, seq, metadata, sensitive, created_at
			FROM (
				SELECT id, conversation_id, from_user, content, agent_type, seq, metadata, sensitive, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC
		`
		args = []any{conversationID, limit}
	case limit > 0:
		query = `
			SELECT id, conversation_id, from_user, content, agent_type, seq, metadata, sensitive, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		`
		args = []any{conversationID, limit}
	default:
		order := "DESC"
		if ascending {
			order = "ASC"
		}
		query = `
			SELECT id, conversation_id, from_user, content, agent_type, seq, metadata, sensitive, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY seq ` + order
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var metadata sql.NullString
		var fromUser, sensitive int

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &fromUser, &msg.Content,
			&msg.AgentType, &msg.Sequence, &metadata, &sensitive, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msg.FromUser = fromUser != 0
		msg.Sensitive = sensitive != 0
		if metadata.Valid {
			msg.Metadata = metadata.String
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// AppendInteraction persists one orchestration pass record.
func (s *SQLiteStore) AppendInteraction(ctx context.Context, rec *Interaction) error {
	query := `
		INSERT INTO interactions (id, conversation_id, agent_type, action, success, duration_ms, error_text, context, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ConversationID,
		rec.AgentType,
		rec.Action,
		boolToInt(rec.Success),
		rec.Duration.Milliseconds(),
		nullString(rec.ErrorText),
		nullString(rec.Context),
		rec.Confidence,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}

	s.logger.Debug("appended interaction",
		"id", rec.ID,
		"conversation_id", rec.ConversationID,
		"agent_type", rec.AgentType,
		"success", rec.Success)
	return nil
}

// ListRecentInteractions returns the most recent interaction records for a
// conversation, newest first.
func (s *SQLiteStore) ListRecentInteractions(ctx context.Context, conversationID string, limit int) ([]*Interaction, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, conversation_id, agent_type, action, success, duration_ms, error_text, context, confidence, created_at
		FROM interactions
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var recs []*Interaction
	for rows.Next() {
		var rec Interaction
		var createdAtStr string
		var errorText, contextStr sql.NullString
		var success int
		var durationMs int64

		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.AgentType, &rec.Action,
			&success, &durationMs, &errorText, &contextStr, &rec.Confidence, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning interaction row: %w", err)
		}

		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing interaction created_at: %w", err)
		}
		rec.Success = success != 0
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if errorText.Valid {
			rec.ErrorText = errorText.String
		}
		if contextStr.Valid {
			rec.Context = contextStr.String
		}

		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interaction rows: %w", err)
	}

	return recs, nil
}

// rowScanner abstracts sql.Row and sql.Rows for conversation scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var userID, endedAt sql.NullString
	var startedAtStr string
	var active int

	err := row.Scan(&conv.ID, &conv.SessionID, &userID, &startedAtStr, &endedAt, &active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.StartedAt, err = time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if userID.Valid {
		conv.UserID = userID.String
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		conv.EndedAt = &t
	}
	conv.Active = active != 0

	return &conv, nil
}

func collectConversations(rows *sql.Rows) ([]*Conversation, error) {
	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime returns nil for nil times, otherwise the RFC3339 encoding
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
