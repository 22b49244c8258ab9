package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/finchat-ai/finchat/pkg/models"
)

// PostgresStore implements Store against PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE chats (
//	    id         VARCHAR(50)  PRIMARY KEY,
//	    user_email VARCHAR(255) NOT NULL,
//	    title      VARCHAR(255) NOT NULL DEFAULT 'New Chat',
//	    agent_id   VARCHAR(100),
//	    created_at TIMESTAMPTZ  NOT NULL,
//	    updated_at TIMESTAMPTZ  NOT NULL
//	);
//	CREATE INDEX ix_chats_user_updated ON chats (user_email, updated_at);
//
//	CREATE TABLE messages (
//	    id            VARCHAR(50) PRIMARY KEY,
//	    chat_id       VARCHAR(50) NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
//	    seq           BIGSERIAL,
//	    role          VARCHAR(20) NOT NULL,
//	    content       TEXT        NOT NULL,
//	    timestamp     TIMESTAMPTZ NOT NULL,
//	    trace_id      VARCHAR(100),
//	    trace_summary JSONB
//	);
//	CREATE INDEX ix_messages_chat_timestamp ON messages (chat_id, timestamp);
//
// seq breaks timestamp ties so message order is stable across reads.
type PostgresStore struct {
	db       *sql.DB
	maxChats int
}

// PostgresConfig holds connection pool settings for the store.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	MaxChatsPerUser int
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		MaxChatsPerUser: DefaultMaxChatsPerUser,
	}
}

// NewPostgresStore opens a PostgreSQL-backed session store from a DSN/URL.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStoreWithDB(db, config.MaxChatsPerUser), nil
}

// NewPostgresStoreWithDB wraps an existing connection. Used by tests.
func NewPostgresStoreWithDB(db *sql.DB, maxChatsPerUser int) *PostgresStore {
	if maxChatsPerUser <= 0 {
		maxChatsPerUser = DefaultMaxChatsPerUser
	}
	return &PostgresStore{db: db, maxChats: maxChatsPerUser}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the connection pool so other stores can share it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the chats and messages tables when they do not
// exist yet. Safe to call on every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id         VARCHAR(50)  PRIMARY KEY,
			user_email VARCHAR(255) NOT NULL,
			title      VARCHAR(255) NOT NULL DEFAULT 'New Chat',
			agent_id   VARCHAR(100),
			created_at TIMESTAMPTZ  NOT NULL,
			updated_at TIMESTAMPTZ  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_chats_user_updated ON chats (user_email, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id            VARCHAR(50) PRIMARY KEY,
			chat_id       VARCHAR(50) NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			seq           BIGSERIAL,
			role          VARCHAR(20) NOT NULL,
			content       TEXT        NOT NULL,
			timestamp     TIMESTAMPTZ NOT NULL,
			trace_id      VARCHAR(100),
			trace_summary JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS ix_messages_chat_timestamp ON messages (chat_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListAll(ctx context.Context, owner string) ([]*models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_email, title, agent_id, created_at, updated_at
		FROM chats WHERE user_email = $1
		ORDER BY updated_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.ChatSession
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}

	// One message query per chat. The per-owner bound caps this at
	// maxChats round trips, so a batched ANY(chat_ids) load is not worth
	// the regrouping code yet.
	for _, chat := range chats {
		msgs, err := s.loadMessages(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
		chat.Messages = msgs
	}
	return chats, nil
}

func (s *PostgresStore) Get(ctx context.Context, owner, chatID string) (*models.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_email, title, agent_id, created_at, updated_at
		FROM chats WHERE id = $1 AND user_email = $2
	`, chatID, owner)

	chat, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msgs, err := s.loadMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	chat.Messages = msgs
	return chat, nil
}

func (s *PostgresStore) Create(ctx context.Context, owner, title, agentID string) (*models.ChatSession, error) {
	if title == "" {
		title = DefaultTitle
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// At READ COMMITTED two concurrent creates can both count 10 rows,
	// both evict the same oldest row (the loser deleting nothing after its
	// re-check), and both insert, leaving 11. Row locks cannot cover the
	// count-then-insert window either, so serialize creates per owner with
	// a transaction-scoped advisory lock before counting.
	if _, err := tx.ExecContext(ctx, `
		SELECT pg_advisory_xact_lock(hashtext($1))
	`, owner); err != nil {
		return nil, fmt.Errorf("failed to lock owner: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chats WHERE user_email = $1
	`, owner).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count chats: %w", err)
	}

	if count >= s.maxChats {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chats WHERE id IN (
				SELECT id FROM chats WHERE user_email = $1
				ORDER BY updated_at ASC LIMIT 1
			)
		`, owner); err != nil {
			return nil, fmt.Errorf("failed to evict oldest chat: %w", err)
		}
	}

	now := time.Now()
	chat := &models.ChatSession{
		ID:        NewChatID(),
		UserEmail: owner,
		Title:     title,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []*models.Message{},
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, user_email, title, agent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, chat.ID, chat.UserEmail, chat.Title, nullString(chat.AgentID), chat.CreatedAt, chat.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chat create: %w", err)
	}
	return chat, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, owner, chatID string, msg *models.Message) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM chats WHERE id = $1 AND user_email = $2 FOR UPDATE
	`, chatID, owner).Scan(&existing)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up chat: %w", err)
	}

	var msgCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE chat_id = $1
	`, chatID).Scan(&msgCount); err != nil {
		return false, fmt.Errorf("failed to count messages: %w", err)
	}

	var summary []byte
	if msg.TraceSummary != nil {
		summary, err = json.Marshal(msg.TraceSummary)
		if err != nil {
			return false, fmt.Errorf("failed to marshal trace summary: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, timestamp, trace_id, trace_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, chatID, string(msg.Role), msg.Content, msg.Timestamp,
		nullString(msg.TraceID), nullBytes(summary)); err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	now := time.Now()
	if msgCount == 0 && msg.Role == models.RoleUser {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chats SET title = $1, updated_at = $2 WHERE id = $3
		`, DeriveTitle(msg.Content), now, chatID); err != nil {
			return false, fmt.Errorf("failed to update chat title: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chats SET updated_at = $1 WHERE id = $2
		`, now, chatID); err != nil {
			return false, fmt.Errorf("failed to bump chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit message append: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RenameTitle(ctx context.Context, owner, chatID, title string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chats SET title = $1, updated_at = $2
		WHERE id = $3 AND user_email = $4
	`, title, time.Now(), chatID, owner)
	if err != nil {
		return false, fmt.Errorf("failed to rename chat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, owner, chatID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chats WHERE id = $1 AND user_email = $2
	`, chatID, owner)
	if err != nil {
		return false, fmt.Errorf("failed to delete chat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) ClearAll(ctx context.Context, owner string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chats WHERE user_email = $1
	`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *PostgresStore) loadMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, timestamp, trace_id, trace_summary
		FROM messages WHERE chat_id = $1
		ORDER BY timestamp ASC, seq ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	msgs := []*models.Message{}
	for rows.Next() {
		var (
			msg     models.Message
			role    string
			traceID sql.NullString
			summary []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content,
			&msg.Timestamp, &traceID, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.TraceID = traceID.String
		if len(summary) > 0 {
			var ts models.TraceSummary
			if err := json.Unmarshal(summary, &ts); err == nil {
				msg.TraceSummary = &ts
			}
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*models.ChatSession, error) {
	var (
		chat    models.ChatSession
		agentID sql.NullString
	)
	err := row.Scan(&chat.ID, &chat.UserEmail, &chat.Title, &agentID,
		&chat.CreatedAt, &chat.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	chat.AgentID = agentID.String
	chat.Messages = []*models.Message{}
	return &chat, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
