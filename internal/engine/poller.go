// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"context"
	"time"

	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/metrics"
	"github.com/pullwatch/pullwatch/internal/models"
)

// Poller runs the fallback snapshot loop. Every tick it fetches the full
// task list from the server unless the push channel is confirmed open, in
// which case the tick is skipped: the poll exists to cover gaps, not to
// duplicate a healthy push stream.
//
// PollNow bypasses suppression. It backs the full resync after a reconnect
// (updates may have been missed while disconnected), the authoritative
// refetch the reconciler schedules when a held task disappears from a
// snapshot, and the recovery resync after a failed cancel.
type Poller struct {
	client     ServerClient
	interval   time.Duration
	suppressed func() bool
	onSnapshot func([]models.Task)

	pollNow chan struct{}
}

// NewPoller creates a poller. suppressed is consulted before each scheduled
// tick; onSnapshot receives every successful fetch.
func NewPoller(client ServerClient, interval time.Duration, suppressed func() bool, onSnapshot func([]models.Task)) *Poller {
	return &Poller{
		client:     client,
		interval:   interval,
		suppressed: suppressed,
		onSnapshot: onSnapshot,
		pollNow:    make(chan struct{}, 1),
	}
}

// PollNow schedules an immediate poll that ignores suppression. Coalesces:
// requesting while one is already pending is a no-op.
func (p *Poller) PollNow() {
	select {
	case p.pollNow <- struct{}{}:
	default:
	}
}

// Serve runs the poll loop until the context is canceled. Implements
// suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-p.pollNow:
			p.poll(ctx)

		case <-ticker.C:
			if p.suppressed != nil && p.suppressed() {
				continue
			}
			p.poll(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (p *Poller) String() string {
	return "task-poller"
}

// poll fetches one snapshot and hands it to the reconciler. Failures are
// logged and counted; the next tick retries.
func (p *Poller) poll(ctx context.Context) {
	start := time.Now()
	tasks, err := p.client.GetTasks(ctx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PollErrors.Inc()
		logging.Debug().Err(err).Msg("task snapshot poll failed")
		return
	}

	if p.onSnapshot != nil {
		p.onSnapshot(tasks)
	}
}
