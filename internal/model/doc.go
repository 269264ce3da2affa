// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: a chat thread with ordered messages and metadata
//   - Message: a single message with role, content and optional image
//   - Role: message role enumeration (user, assistant)
//
// # Usage
//
// Create a new conversation and append messages:
//
//	conv := model.NewConversation()
//	conv.Append(model.NewUserMessage("Hello!"))
package model
