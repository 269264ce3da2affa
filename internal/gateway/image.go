// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// imageRequest is the image endpoint's request body.
type imageRequest struct {
	Prompt string `json:"prompt"`
}

// imageResponse is the image endpoint's answer. The URL is usually a data
// URI but can be a regular HTTPS reference.
type imageResponse struct {
	ImageURL    string `json:"imageUrl"`
	Description string `json:"description"`
}

// ImageResult is a generated image with its optional caption.
type ImageResult struct {
	URL         string
	Description string
}

// GenerateImage asks the image endpoint to render the prompt. Unlike chat,
// this is a single bounded request with no streaming.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	if c.imageURL == "" {
		return nil, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(imageRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.imageURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp, body)
	}

	var imgResp imageResponse
	if err := json.Unmarshal(body, &imgResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if imgResp.ImageURL == "" {
		return nil, ErrNoImage
	}

	log.Debug().Int("url_len", len(imgResp.ImageURL)).Msg("image generated")

	return &ImageResult{
		URL:         imgResp.ImageURL,
		Description: imgResp.Description,
	}, nil
}

// readResponse reads a bounded response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
