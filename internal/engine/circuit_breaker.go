// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/metrics"
	"github.com/pullwatch/pullwatch/internal/models"
)

// BreakerClient wraps a ServerClient with a circuit breaker so a dead or
// slow server cannot turn the poll fallback into a request storm. An open
// circuit is a transient error like any other: retried silently, never
// surfaced to the user.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests should mock the wrapped client rather than the breaker.
type BreakerClient struct {
	client ServerClient
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerClient wraps a ServerClient with circuit breaker protection.
// Configuration:
//   - max 3 concurrent requests in half-open state
//   - 1 minute measurement window
//   - 30 second open period before probing recovery
//   - opens at a 60% failure rate with at least 5 requests observed
func NewBreakerClient(client ServerClient) *BreakerClient {
	metrics.CircuitBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "download-server",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &BreakerClient{client: client, cb: cb}
}

// GetTasks implements ServerClient.
func (b *BreakerClient) GetTasks(ctx context.Context) ([]models.Task, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.GetTasks(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Task), nil
}

// Submit implements ServerClient.
func (b *BreakerClient) Submit(ctx context.Context, uri string) (*models.Task, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.client.Submit(ctx, uri)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Task), nil
}

// Cancel implements ServerClient.
func (b *BreakerClient) Cancel(ctx context.Context, id int64) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.client.Cancel(ctx, id)
	})
	return err
}

// execute runs one call under the breaker and records the outcome.
func (b *BreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues("success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues("rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues("failure").Inc()
	}
	return result, err
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
