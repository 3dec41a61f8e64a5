// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/pullwatch/pullwatch/internal/config"
	"github.com/pullwatch/pullwatch/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// ServerClient is the REST contract with the download-manager server.
// Implemented by Client for production and by mocks in tests; BreakerClient
// wraps any implementation with circuit breaker protection.
//
// All methods accept a context for cancellation and are safe for concurrent
// use.
type ServerClient interface {
	// GetTasks fetches the server's current set of non-terminal tasks.
	// Used for the initial load, the poll fallback and authoritative
	// refetches. The result is a full snapshot, not a delta.
	GetTasks(ctx context.Context) ([]models.Task, error)

	// Submit creates a task from a URI or magnet link and returns the
	// created record.
	Submit(ctx context.Context, uri string) (*models.Task, error)

	// Cancel removes a task by ID.
	Cancel(ctx context.Context, id int64) error
}

// Client is the HTTP implementation of ServerClient. Requests carry the API
// key header and are paced by a token-bucket rate limiter so resync storms
// cannot hammer the server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a REST client from server settings.
func NewClient(cfg config.ServerConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
	}
}

// GetTasks implements ServerClient.
func (c *Client) GetTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tasks", nil, &tasks); err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	return tasks, nil
}

// Submit implements ServerClient.
func (c *Client) Submit(ctx context.Context, uri string) (*models.Task, error) {
	body, err := json.Marshal(models.SubmitRequest{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("encode submit request: %w", err)
	}

	var task models.Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/tasks", body, &task); err != nil {
		return nil, fmt.Errorf("submit task: %w", err)
	}
	return &task, nil
}

// Cancel implements ServerClient.
func (c *Client) Cancel(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/v1/tasks/%d", id)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	return nil
}

// doJSON performs one rate-limited request and decodes the JSON response
// into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, readBodyForError(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readBodyForError reads at most maxErrorBodySize bytes of a response body
// for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}
