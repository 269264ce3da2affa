// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists conversations and their messages.
//
// The backing schema has no dedicated image column, so generated images
// ride inside the content column using a marker encoding; see
// EncodeImageContent. The SQLite implementation is the
// default; the Store interface exists so the chat layer can run without
// persistence in tests.
package store
