// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/pennywise-ai/chatcore/internal/model"
)

// schema creates the two tables. Message rows cascade with their
// conversation so DeleteConversation is a single statement.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	pinned     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user
	ON conversations(user_id, updated_at DESC);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists conversations in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("conversation store opened")

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// CreateConversation persists a new conversation and any messages it
// already carries, atomically.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID string, conv *model.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, pinned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, userID, conv.Title, boolToInt(conv.Pinned),
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListConversations returns the user's conversations, messages hydrated,
// most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, pinned, created_at, updated_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY updated_at DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	byID := make(map[string]*model.Conversation)
	for rows.Next() {
		var (
			conv             model.Conversation
			pinned           int
			createdMS, updMS int64
		)
		if err := rows.Scan(&conv.ID, &conv.Title, &pinned, &createdMS, &updMS); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.Pinned = pinned != 0
		conv.CreatedAt = time.UnixMilli(createdMS)
		conv.UpdatedAt = time.UnixMilli(updMS)
		conv.Messages = make([]model.Message, 0)
		convs = append(convs, &conv)
		byID[conv.ID] = &conv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.hydrateMessages(ctx, userID, byID); err != nil {
		return nil, err
	}
	return convs, nil
}

// hydrateMessages loads every message belonging to the user's conversations
// in one pass, in chronological order.
func (s *SQLiteStore) hydrateMessages(ctx context.Context, userID string, byID map[string]*model.Conversation) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.conversation_id, m.role, m.content, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.user_id = ?
		 ORDER BY m.created_at, m.rowid`, userID)
	if err != nil {
		return fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg       model.Message
			convID    string
			roleStr   string
			stored    string
			createdMS int64
		)
		if err := rows.Scan(&msg.ID, &convID, &roleStr, &stored, &createdMS); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		role, err := model.ParseRole(roleStr)
		if err != nil {
			return fmt.Errorf("corrupt message %s: %w", msg.ID, err)
		}
		msg.Role = role
		msg.Content, msg.ImageURL = DecodeImageContent(stored)
		msg.CreatedAt = time.UnixMilli(createdMS)

		if conv, ok := byID[convID]; ok {
			conv.Messages = append(conv.Messages, msg)
		}
	}
	return rows.Err()
}

// UpdateConversation applies the non-nil fields and bumps recency.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, boolToInt(*update.Pinned))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return requireRow(res)
}

// DeleteConversation removes the conversation; messages cascade.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return requireRow(res)
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// AppendMessage adds one message and bumps the conversation's recency.
func (s *SQLiteStore) AppendMessage(ctx context.Context, convID string, msg model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now().UnixMilli(), convID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if err := insertMessage(ctx, tx, convID, msg); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteMessages removes messages by ID. Unknown IDs are ignored.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, tx execer, convID string, msg model.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("refusing to store message %s with role %q", msg.ID, msg.Role)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, convID, msg.Role.String(),
		EncodeImageContent(msg.Content, msg.ImageURL),
		msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// requireRow maps a zero-row write to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
