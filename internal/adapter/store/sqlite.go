package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mindmuse/internal/domain"
)

// SQLiteStore keeps user settings and conversation transcripts in one
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ domain.SettingsStore   = (*SQLiteStore)(nil)
	_ domain.TranscriptStore = (*SQLiteStore)(nil)
)

// Open opens (or creates) the database at dbPath and runs the schema
// migration. ":memory:" gives a private in-memory database.
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, domain.NewDomainError("store.Open", domain.ErrStore, err.Error())
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, domain.NewDomainError("store.Open", domain.ErrStore, err.Error())
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, domain.NewDomainError("store.Open", domain.ErrStore, fmt.Sprintf("set WAL mode: %v", err))
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.NewDomainError("store.Open", domain.ErrStore, fmt.Sprintf("migrate: %v", err))
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			parts           TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the stored value for key, or domain.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", domain.NewDomainError("store.Get", domain.ErrStore, err.Error())
	}
	return v, nil
}

// Set upserts key.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return domain.NewDomainError("store.Set", domain.ErrStore, err.Error())
	}
	return nil
}

// AppendMessage stores msg at the end of the conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	var parts string
	if len(msg.Parts) > 0 {
		raw, err := json.Marshal(msg.Parts)
		if err != nil {
			return domain.NewDomainError("store.AppendMessage", domain.ErrStore, fmt.Sprintf("marshal parts: %v", err))
		}
		parts = string(raw)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, parts, created_at) VALUES (?, ?, ?, ?, ?)",
		conversationID, msg.Role, msg.Content, parts, ts.UnixNano(),
	)
	if err != nil {
		return domain.NewDomainError("store.AppendMessage", domain.ErrStore, err.Error())
	}
	return nil
}

// LoadConversation returns the stored messages in insertion order, or
// domain.ErrNotFound when the conversation has none.
func (s *SQLiteStore) LoadConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, parts, created_at FROM messages WHERE conversation_id = ? ORDER BY id",
		conversationID,
	)
	if err != nil {
		return nil, domain.NewDomainError("store.LoadConversation", domain.ErrStore, err.Error())
	}
	defer rows.Close()

	conv := &domain.Conversation{ID: conversationID}
	for rows.Next() {
		var (
			msg   domain.Message
			parts string
			ts    int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &parts, &ts); err != nil {
			return nil, domain.NewDomainError("store.LoadConversation", domain.ErrStore, err.Error())
		}
		if parts != "" {
			if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
				return nil, domain.NewDomainError("store.LoadConversation", domain.ErrStore, fmt.Sprintf("unmarshal parts: %v", err))
			}
		}
		msg.Timestamp = time.Unix(0, ts)
		if conv.CreatedAt.IsZero() {
			conv.CreatedAt = msg.Timestamp
		}
		conv.UpdatedAt = msg.Timestamp
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainError("store.LoadConversation", domain.ErrStore, err.Error())
	}
	if len(conv.Messages) == 0 {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

// PruneBefore deletes messages stored before cutoff.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, domain.NewDomainError("store.PruneBefore", domain.ErrStore, err.Error())
	}
	n, _ := res.RowsAffected()
	return n, nil
}
