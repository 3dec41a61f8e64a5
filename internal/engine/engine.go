// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package engine implements the task state synchronization engine: a push
// channel with automatic recovery, a suppressible poll fallback, and a
// reconciler that merges both origins into one consistent local task
// collection with optimistic removal and desktop notification side effects.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pullwatch/pullwatch/internal/config"
	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/models"
)

// cleanupInterval is the cadence of the expiry sweep over tombstones and
// fire-once notification records.
const cleanupInterval = time.Minute

// Engine wires the synchronization components together and exposes the
// imperative surface: submit, cancel, read the collection, subscribe to
// collection states and server notices.
//
// Component layout:
//
//	ConnectionManager ──frames──▶ Adapter ──updates──▶ Reconciler
//	Poller ──snapshots──────────────────────────────▶ Reconciler
//	Reconciler ──transitions──▶ NotificationPolicy ──▶ Notifier
//
// The connection manager suppresses the poller while open; reconnects and
// failed cancels trigger immediate polls through PollNow.
type Engine struct {
	cfg config.Config

	client     ServerClient
	conn       *ConnectionManager
	poller     *Poller
	reconciler *Reconciler
	tombstones *TombstoneTracker
	policy     *NotificationPolicy
	adapter    *Adapter

	noticeMu  sync.Mutex
	noticeSub []chan models.Notice
}

// New assembles an engine from configuration. notifier may be nil, in which
// case notifications go to the log.
func New(cfg config.Config, notifier Notifier) *Engine {
	e := &Engine{cfg: cfg}

	e.client = NewBreakerClient(NewClient(cfg.Server))
	e.tombstones = NewTombstoneTracker(cfg.Engine.TombstoneTTL)
	e.policy = NewNotificationPolicy(cfg.Notifications, notifier)
	e.reconciler = NewReconciler(e.tombstones, e.policy)
	e.adapter = NewAdapter(e.reconciler.Apply, e.publishNotice)

	e.conn = NewConnectionManager(cfg.Server, cfg.Engine)
	e.poller = NewPoller(
		e.client,
		cfg.Engine.PollInterval,
		e.conn.IsOpen,
		func(tasks []models.Task) {
			e.reconciler.ApplySnapshot(tasks, models.SourcePoll)
			// Pre-existing errored tasks were reconciled quietly above;
			// from now on unknown error arrivals are live failures.
			e.policy.MarkSynced()
		},
	)

	e.conn.SetCallbacks(
		e.adapter.HandleFrame,
		// Reconnect: updates may have been missed while down, resync in full.
		e.poller.PollNow,
		// Disconnect: the next scheduled tick resumes polling on its own;
		// poll immediately so the gap starts covered.
		e.poller.PollNow,
	)

	// Held task vanished from a snapshot: one authoritative refetch decides
	// whether it is really gone.
	e.reconciler.SetRefetch(e.poller.PollNow)

	return e
}

// Connection returns the push channel manager, for supervision.
func (e *Engine) Connection() *ConnectionManager { return e.conn }

// Poller returns the fallback poller, for supervision.
func (e *Engine) Poller() *Poller { return e.poller }

// Serve runs the engine's housekeeping: the periodic expiry sweep over
// tombstones and fire-once records, plus the initial full load. The
// connection manager and poller run as sibling services under the same
// supervisor. Implements suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	// Initial load before the push channel settles.
	e.poller.PollNow()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired := e.tombstones.CleanupExpired()
			expired += e.policy.CleanupExpired()
			if expired > 0 {
				logging.Debug().Int("expired", expired).Msg("expiry sweep")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (e *Engine) String() string {
	return "sync-engine"
}

// Tasks returns a copy of the current task collection in display order.
func (e *Engine) Tasks() []models.Task {
	return e.reconciler.Tasks()
}

// Subscribe returns a channel receiving a full copy of the collection after
// each change.
func (e *Engine) Subscribe() <-chan []models.Task {
	return e.reconciler.Subscribe()
}

// SubscribeNotices returns a channel receiving server notices and
// engine-generated user-visible errors.
func (e *Engine) SubscribeNotices() <-chan models.Notice {
	ch := make(chan models.Notice, 16)
	e.noticeMu.Lock()
	e.noticeSub = append(e.noticeSub, ch)
	e.noticeMu.Unlock()
	return ch
}

// Submit creates a download task from a URI or magnet link. The created task
// enters the collection through the regular reconciliation path, so a
// concurrent push update for it cannot produce a duplicate.
func (e *Engine) Submit(ctx context.Context, uri string) (*models.Task, error) {
	task, err := e.client.Submit(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	e.reconciler.Apply(models.TaskUpdate{
		Task:       *task,
		Source:     models.SourcePoll,
		ReceivedAt: time.Now(),
	})
	return task, nil
}

// Cancel removes a task optimistically: the entry disappears from the local
// collection and a tombstone suppresses in-flight updates before the server
// round-trip completes. If the server rejects the cancel, the tombstone is
// lifted, a resync restores the task's true state, and the failure is
// surfaced as a notice.
func (e *Engine) Cancel(ctx context.Context, id int64) error {
	e.tombstones.Bury(id)
	e.reconciler.RemoveLocal(id)

	if err := e.client.Cancel(ctx, id); err != nil {
		e.tombstones.Revive(id)
		e.poller.PollNow()
		e.publishNotice(models.Notice{
			Message: fmt.Sprintf("failed to cancel task %d: %v", id, err),
			Level:   models.NoticeError,
		})
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	return nil
}

// publishNotice fans a notice out to subscribers without blocking.
func (e *Engine) publishNotice(n models.Notice) {
	logging.Info().
		Str("level", string(n.Level)).
		Str("message", n.Message).
		Msg("server notice")

	e.noticeMu.Lock()
	subs := e.noticeSub
	e.noticeMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			logging.Warn().Msg("notice subscriber full, dropping notice")
		}
	}
}
