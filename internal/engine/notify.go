// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pullwatch/pullwatch/internal/cache"
	"github.com/pullwatch/pullwatch/internal/config"
	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/metrics"
	"github.com/pullwatch/pullwatch/internal/models"
)

// Notifier delivers a desktop notification. Delivery is best-effort:
// implementations must not block and failures are never surfaced.
type Notifier interface {
	Notify(title, body string)
}

// LogNotifier writes notifications to the structured log. It is the default
// Notifier when no desktop integration is wired in.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(title, body string) {
	logging.Info().
		Str("component", "notifier").
		Str("title", title).
		Str("body", body).
		Msg("desktop notification")
}

// firedTTL bounds the fire-once record. Task IDs are server-assigned and
// never reused within a session, so expiry only reclaims memory.
const firedTTL = time.Hour

// NotificationPolicy observes task state transitions and fires a desktop
// notification exactly once when a task crosses into complete or into error
// for the first time, honoring the per-category preference toggles.
//
// The transition comparison runs against the status held immediately before
// the reconciler mutates or removes the entry, so redundant repeated
// terminal updates never re-fire.
type NotificationPolicy struct {
	prefs    config.NotificationConfig
	notifier Notifier

	// synced flips once the first full snapshot has been reconciled.
	// Until then a first observation in error state is pre-existing history,
	// not a failure the user was watching.
	synced atomic.Bool

	// fired records "complete:<id>" / "error:<id>" keys so each transition
	// fires at most once per task lifetime.
	fired *cache.TTLSet
}

// NewNotificationPolicy creates a policy with the given preferences.
// A nil notifier falls back to LogNotifier.
func NewNotificationPolicy(prefs config.NotificationConfig, notifier Notifier) *NotificationPolicy {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &NotificationPolicy{
		prefs:    prefs,
		notifier: notifier,
		fired:    cache.NewTTLSet(tombstoneCapacity, firedTTL),
	}
}

// ObserveTransition is called by the reconciler before it applies an update.
// prev is the previously-observed status; known is false when the task was
// not in the local collection.
func (p *NotificationPolicy) ObserveTransition(prev models.TaskStatus, known bool, next models.Task) {
	switch {
	case next.Status == models.StatusComplete:
		if known && prev == models.StatusComplete {
			return
		}
		// A completion for a task never observed locally is not a
		// transition the user was watching; stay quiet.
		if !known {
			return
		}
		if !p.prefs.OnComplete {
			return
		}
		if p.fired.IsDuplicate(fmt.Sprintf("complete:%d", next.ID)) {
			return
		}
		metrics.NotificationsFired.WithLabelValues("complete").Inc()
		p.deliver("Download finished", next.DisplayName())

	case next.Status == models.StatusError:
		if known && prev == models.StatusError {
			return
		}
		// Before the first snapshot has loaded, an unknown task already in
		// error state errored before this session started.
		if !known && !p.synced.Load() {
			return
		}
		if !p.prefs.OnError {
			return
		}
		if p.fired.IsDuplicate(fmt.Sprintf("error:%d", next.ID)) {
			return
		}
		metrics.NotificationsFired.WithLabelValues("error").Inc()
		body := next.DisplayName()
		if next.Error != "" {
			body = fmt.Sprintf("%s: %s", next.DisplayName(), next.Error)
		}
		p.deliver("Download failed", body)
	}
}

// deliver invokes the notifier fire-and-forget. Display failures are the
// notifier's problem and are never reported back.
func (p *NotificationPolicy) deliver(title, body string) {
	go p.notifier.Notify(title, body)
}

// MarkSynced records that the initial full snapshot has been reconciled.
// From here on, unknown tasks arriving in error state are live failures.
func (p *NotificationPolicy) MarkSynced() {
	p.synced.Store(true)
}

// CleanupExpired drops expired fire-once records.
func (p *NotificationPolicy) CleanupExpired() int {
	return p.fired.CleanupExpired()
}
