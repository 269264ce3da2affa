// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat coordinates conversations, streaming, and persistence.
//
// Manager is the single writer for all conversation state. One response can
// be in flight at a time: Send and Regenerate refuse to start while the
// status is anything but idle, and Stop cancels the in-flight request,
// committing whatever text had streamed in.
//
// Persistence is write-behind and non-blocking for everything except
// conversation creation: a failed message write is reported through the
// notifier but never rolls back in-memory state, while a conversation that
// cannot be created is not usable and aborts.
package chat
