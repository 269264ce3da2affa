// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"

	"github.com/pennywise-ai/chatcore/internal/model"
)

// ErrNotFound indicates the referenced conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// ConversationUpdate names the mutable conversation fields. Nil means
// leave unchanged.
type ConversationUpdate struct {
	Title  *string
	Pinned *bool
}

// Store is the persistence boundary for conversations.
//
// Writes are per-row: the chat layer appends messages one at a time as they
// are committed, it never rewrites whole conversations. Implementations must
// keep ListConversations ordered by recency (most recently updated first).
type Store interface {
	// CreateConversation persists a new conversation including any messages
	// it already carries.
	CreateConversation(ctx context.Context, userID string, conv *model.Conversation) error

	// ListConversations returns the user's conversations with messages
	// hydrated, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)

	// UpdateConversation applies the non-nil fields. Returns ErrNotFound
	// for an unknown conversation.
	UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error

	// DeleteConversation removes the conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage adds one message to an existing conversation and bumps
	// its recency.
	AppendMessage(ctx context.Context, convID string, msg model.Message) error

	// DeleteMessages removes messages by ID. Unknown IDs are ignored.
	DeleteMessages(ctx context.Context, ids []string) error

	// Close releases the underlying resources.
	Close() error
}
