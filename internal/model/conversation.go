// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/pennywise-ai/chatcore/internal/util"
)

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New Chat"

// TitleMaxRunes is the maximum title length derived from the first user
// message; longer messages are truncated with an ellipsis.
const TitleMaxRunes = 30

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat thread with history and metadata.
//
// Messages are kept in insertion order, which is also chronological order.
// They are immutable once appended except for the tail truncation performed
// by regeneration.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Pinned    bool      `json:"pinned"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a new empty conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.New().String(),
		Title:     DefaultTitle,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the conversation and bumps UpdatedAt. The title
// is derived from the first user message the first time one is appended.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	if c.Title == "" || c.Title == DefaultTitle {
		c.Title = GenerateTitle(c.Messages)
	}
}

// Touch bumps UpdatedAt without changing messages (pin toggles).
func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now()
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// LastUserIndex returns the index of the most recent user message, scanning
// from the end, or -1 if the conversation has no user message.
func (c *Conversation) LastUserIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// TruncateAfterLastUser drops every message after the most recent user
// message and returns the removed messages. The removed slice is a copy, so
// callers can delete the corresponding remote rows after the local
// truncation has already happened. Returns nil if there is no user message.
func (c *Conversation) TruncateAfterLastUser() []Message {
	idx := c.LastUserIndex()
	if idx < 0 {
		return nil
	}
	removed := make([]Message, len(c.Messages)-idx-1)
	copy(removed, c.Messages[idx+1:])
	c.Messages = c.Messages[:idx+1]
	c.UpdatedAt = time.Now()
	return removed
}

// =============================================================================
// WIRE HISTORY
// =============================================================================

// HistoryEntry is a role+content pair as transmitted to the completion
// endpoint. Identifiers, timestamps and image references are stripped.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History returns the conversation's messages as wire entries.
func (c *Conversation) History() []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(c.Messages))
	for _, msg := range c.Messages {
		entries = append(entries, HistoryEntry{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return entries
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// GenerateTitle derives a conversation title from a message list: the first
// user message truncated to TitleMaxRunes runes, with "..." appended iff the
// original is longer. Returns DefaultTitle when no user message exists.
func GenerateTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role == RoleUser {
			return util.TruncateRunes(msg.Content, TitleMaxRunes)
		}
	}
	return DefaultTitle
}

// Preview returns a short preview of the conversation: the first user
// message, or an empty string for an empty conversation.
func (c *Conversation) Preview(maxRunes int) string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(maxRunes)
		}
	}
	return ""
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	copy(clone.Messages, c.Messages)
	return &clone
}
