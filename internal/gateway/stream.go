// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pennywise-ai/chatcore/internal/model"
	"github.com/pennywise-ai/chatcore/internal/sse"
)

// streamReadSize is the read buffer for the SSE body. Reads are raw network
// fragments; the decoder owns line reassembly.
const streamReadSize = 4096

// chatRequest is the completion endpoint's request body.
type chatRequest struct {
	Messages []model.HistoryEntry `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// ChunkFunc receives each content delta as it arrives.
type ChunkFunc func(delta string)

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat sends the conversation history to the completion endpoint and
// decodes the SSE answer, calling onChunk for every content delta.
//
// It returns the full accumulated text. On cancellation or a mid-stream
// transport failure the error is a *StreamError carrying the partial text
// received so far; the caller decides whether to keep it. A stream that
// finishes without producing any content yields ErrEmptyResponse.
func (c *Client) StreamChat(ctx context.Context, history []model.HistoryEntry, onChunk ChunkFunc) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	bodyBytes, err := json.Marshal(chatRequest{Messages: history, Stream: true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// Stream lifetime is bounded by ctx, not a client timeout.
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return "", c.handleErrorResponse(resp, body)
	}

	log.Debug().Int("messages", len(history)).Msg("completion stream opened")

	return c.consumeStream(ctx, resp.Body, onChunk)
}

// consumeStream reads the SSE body to completion, emitting deltas.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, onChunk ChunkFunc) (string, error) {
	dec := sse.NewDecoder()
	var accumulated strings.Builder
	buf := make([]byte, streamReadSize)

	emit := func(chunks []string) error {
		for _, chunk := range chunks {
			// Cancellation takes effect between deltas, never inside one.
			if err := ctx.Err(); err != nil {
				return err
			}
			accumulated.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		return nil
	}

	for !dec.Done() {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := emit(dec.Feed(buf[:n])); err != nil {
				return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: err}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				// Remote closed without the sentinel; salvage what is
				// still buffered.
				if err := emit(dec.Flush()); err != nil {
					return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: err}
				}
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				readErr = ctxErr
			}
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: readErr}
		}
	}

	if accumulated.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return accumulated.String(), nil
}

// IsCancellation reports whether the error stems from context cancellation,
// unwrapping StreamError if needed.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
