// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway is the HTTP client for the chat backend.
//
// Two endpoints are covered: the streaming completion endpoint, which
// answers with server-sent events, and the image generation endpoint,
// which answers with a single JSON document. Both share the error
// taxonomy: rate limiting and quota exhaustion map to sentinel errors the
// caller can present distinctly, everything else surfaces as an APIError
// carrying the HTTP status.
package gateway
