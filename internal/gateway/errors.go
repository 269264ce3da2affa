// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Error variables for common backend failures.
var (
	// ErrNotConfigured indicates no endpoint URL has been set.
	ErrNotConfigured = errors.New("gateway not configured")

	// ErrRateLimited indicates too many requests were made (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded indicates the account's usage quota is spent (HTTP 402).
	ErrQuotaExceeded = errors.New("usage quota exceeded")

	// ErrEmptyResponse indicates the stream finished without producing any
	// content.
	ErrEmptyResponse = errors.New("empty response from model")

	// ErrNoImage indicates the image endpoint answered without an image URL.
	ErrNoImage = errors.New("no image produced")
)

// APIError represents an unclassified error answer from the backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// RateLimitError is a rate limit answer that carried retry information.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StreamError is an error raised mid-stream, preserving the content that
// arrived before the failure so callers can keep the partial answer.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
