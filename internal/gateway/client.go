// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Configuration constants for the backend client.
const (
	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultRequestsPerSecond caps outbound request rate client-side so a
	// burst of user actions does not trip the server's 429 limiter.
	DefaultRequestsPerSecond = 5

	// DefaultBurst is the rate limiter's burst allowance.
	DefaultBurst = 5

	// MaxResponseSize is the maximum allowed non-streaming response body.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// Shared HTTP client with connection pooling for all bounded requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests. It carries no
	// timeout; stream lifetime is controlled through the request context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the completion and image endpoints.
type Client struct {
	completionURL string
	imageURL      string
	apiKey        string
	timeout       time.Duration
	limiter       *rate.Limiter

	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the given endpoints. An empty API key is
// allowed; requests are sent unauthenticated (the backend may front the
// provider key itself).
func NewClient(completionURL, imageURL, apiKey string) *Client {
	return &Client{
		completionURL: strings.TrimSuffix(completionURL, "/"),
		imageURL:      strings.TrimSuffix(imageURL, "/"),
		apiKey:        strings.TrimSpace(apiKey),
		timeout:       DefaultTimeout,
		limiter:       rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), DefaultBurst),
		httpClient:    sharedHTTPClient,
		streamClient:  sharedStreamingClient,
	}
}

// WithTimeout sets the timeout for bounded (non-streaming) requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithRateLimit replaces the client-side rate limiter.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return c
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// IsConfigured reports whether a completion endpoint has been set.
func (c *Client) IsConfigured() bool {
	return c.completionURL != ""
}

// setHeaders sets the headers shared by both endpoints.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chatcore/0.1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// handleErrorResponse converts a non-200 answer into the error taxonomy.
// Rate limiting and quota exhaustion get their own sentinels so the caller
// can present them distinctly; everything else becomes an APIError.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte) error {
	status := resp.StatusCode

	log.Debug().
		Int("status", status).
		Str("url", resp.Request.URL.Path).
		Msg("backend error response")

	message := apiErrorMessage(body)

	switch status {
	case http.StatusTooManyRequests:
		return rateLimitError(resp)
	case http.StatusPaymentRequired:
		if message != "" {
			return &wrappedSentinel{sentinel: ErrQuotaExceeded, message: message}
		}
		return ErrQuotaExceeded
	default:
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		return &APIError{Status: status, Message: message}
	}
}

// apiErrorMessage extracts the server's error text from the body. The
// backend answers with a flat {"error":"..."} envelope; a nested
// {"error":{"message":"..."}} shape is also accepted.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}

	var flat string
	if err := json.Unmarshal(envelope.Error, &flat); err == nil {
		return flat
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

// rateLimitError builds the 429 error, honoring a Retry-After header when
// the server sent one.
func rateLimitError(resp *http.Response) error {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return ErrRateLimited
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Duration(seconds) * time.Second}
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return &RateLimitError{RetryAfter: time.Until(t)}
	}
	return ErrRateLimited
}

// wrappedSentinel attaches the server's message to a sentinel error while
// keeping errors.Is matching intact.
type wrappedSentinel struct {
	sentinel error
	message  string
}

func (e *wrappedSentinel) Error() string {
	return e.sentinel.Error() + ": " + e.message
}

func (e *wrappedSentinel) Unwrap() error {
	return e.sentinel
}
