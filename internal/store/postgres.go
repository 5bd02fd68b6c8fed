package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChatStore persists chat rows in Postgres.
type PostgresChatStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database named by dsn, verifies the
// connection, and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresChatStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	st := &PostgresChatStore{pool: pool}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("postgres chat store opened")
	return st, nil
}

// Close releases the connection pool.
func (s *PostgresChatStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresChatStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat (
			id BIGSERIAL PRIMARY KEY,
			chatroom_id INT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			content TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_room_ts ON chat (chatroom_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
	}
	slog.Debug("postgres migrations applied")
	return nil
}

// AppendChat adds one line to a room's log.
func (s *PostgresChatStore) AppendChat(ctx context.Context, chatroomID int32, ts time.Time, content string) error {
	const q = `INSERT INTO chat (chatroom_id, ts, content) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, q, chatroomID, ts, content); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// ChatsSince returns a room's lines newer than since, oldest first.
func (s *PostgresChatStore) ChatsSince(ctx context.Context, chatroomID int32, since time.Time) ([]string, error) {
	const q = `SELECT content FROM chat WHERE chatroom_id = $1 AND ts > $2 ORDER BY id`
	rows, err := s.pool.Query(ctx, q, chatroomID, since)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var msgs []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		msgs = append(msgs, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chats: %w", err)
	}
	return msgs, nil
}

var _ ChatStore = (*PostgresChatStore)(nil)
