// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the chat core.
//
//   - Rune-safe string truncation for titles and previews
//   - Atomic file writes for configuration persistence
package util
