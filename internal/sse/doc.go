// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes server-sent-event completion streams into text deltas.
//
// The decoder is push-driven: callers feed it raw byte fragments exactly as
// they arrive from the network and receive back the content deltas completed
// by those bytes. A fragment boundary never has to align with a line
// boundary, or even with a JSON object boundary; the decoder buffers
// residual bytes across calls.
//
// One decoder serves one connection. It is not restartable: once the
// [DONE] sentinel has been seen the decoder stays drained.
package sse
