// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"strconv"
	"time"

	"github.com/pullwatch/pullwatch/internal/cache"
	"github.com/pullwatch/pullwatch/internal/metrics"
)

// tombstoneCapacity bounds the tracker even if polling never confirms
// absences (push channel healthy the whole time).
const tombstoneCapacity = 4096

// TombstoneTracker records task IDs the user has locally removed, so that
// in-flight updates for those IDs arriving late cannot resurrect them.
//
// Entries are cleared on the earlier of: a poll snapshot confirming the
// server no longer reports the ID, or the configured TTL expiring. The
// tracker is consulted by the reconciler and nowhere else.
type TombstoneTracker struct {
	set *cache.TTLSet
}

// NewTombstoneTracker creates a tracker whose entries expire after ttl.
func NewTombstoneTracker(ttl time.Duration) *TombstoneTracker {
	return &TombstoneTracker{set: cache.NewTTLSet(tombstoneCapacity, ttl)}
}

// Bury marks a task ID as locally removed. Called before the server
// acknowledges the cancel/delete.
func (t *TombstoneTracker) Bury(id int64) {
	t.set.Add(key(id))
	metrics.TombstonesActive.Set(float64(t.set.Len()))
}

// Revive removes a tombstone. Called when the server rejects the user's
// cancel/delete, so the task's true state can reappear on the next sync.
func (t *TombstoneTracker) Revive(id int64) {
	t.set.Remove(key(id))
	metrics.TombstonesActive.Set(float64(t.set.Len()))
}

// Buried reports whether updates for this task ID must be suppressed.
func (t *TombstoneTracker) Buried(id int64) bool {
	return t.set.Contains(key(id))
}

// ConfirmAbsent clears a tombstone once a full snapshot no longer reports
// the ID, bounding memory growth without waiting for the TTL.
func (t *TombstoneTracker) ConfirmAbsent(id int64) {
	t.set.Remove(key(id))
	metrics.TombstonesActive.Set(float64(t.set.Len()))
}

// ConfirmAbsences clears every tombstone whose ID the snapshot no longer
// reports. Tombstones for IDs still present are kept: a stale snapshot
// issued before the cancel may legitimately still list the task.
func (t *TombstoneTracker) ConfirmAbsences(present map[int64]bool) {
	for _, k := range t.set.Keys() {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		if !present[id] {
			t.set.Remove(k)
		}
	}
	metrics.TombstonesActive.Set(float64(t.set.Len()))
}

// CleanupExpired drops expired tombstones. Called periodically by the engine.
func (t *TombstoneTracker) CleanupExpired() int {
	removed := t.set.CleanupExpired()
	metrics.TombstonesActive.Set(float64(t.set.Len()))
	return removed
}

// Len returns the number of active tombstones.
func (t *TombstoneTracker) Len() int {
	return t.set.Len()
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}
