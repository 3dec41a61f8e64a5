// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"sync"

	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/metrics"
	"github.com/pullwatch/pullwatch/internal/models"
)

// TransitionObserver is consulted with the previously-observed status
// before the reconciler mutates or removes an entry. Implemented by
// NotificationPolicy.
type TransitionObserver interface {
	ObserveTransition(prev models.TaskStatus, known bool, next models.Task)
}

// Reconciler holds the authoritative local task collection. It is the only
// component allowed to mutate it; every mutation path (push update, poll
// snapshot, optimistic user removal) serializes on its mutex, so consumers
// observe a monotonic sequence of collection states with no duplicate IDs
// and no tombstoned tasks.
//
// Ordering: the collection is kept newest-first; a task first observed (or
// newly created) is inserted at the front, existing tasks are updated in
// place. Updates carry no cross-source sequence numbers, so merges are
// last-writer-wins by arrival order; tombstones and terminal-state rules
// provide correctness, not timestamp comparison.
type Reconciler struct {
	mu sync.RWMutex

	// order holds task IDs in display order, newest first.
	order []int64

	// tasks indexes the collection by ID. Invariant: len(tasks) == len(order)
	// and every ID in order has exactly one entry.
	tasks map[int64]*models.Task

	// staleCandidates marks held tasks that one poll snapshot failed to
	// report. A second consecutive absence removes them; a reappearance
	// clears the mark. The snapshot alone cannot distinguish completed from
	// errored-then-resolved from deleted, so the first absence only triggers
	// an authoritative refetch.
	staleCandidates map[int64]bool

	tombstones *TombstoneTracker
	observer   TransitionObserver

	// refetch schedules one authoritative snapshot refetch. Set by the
	// engine; may be nil in tests.
	refetch func()

	// subscribers receive a full copy of the collection after each change.
	subscribers []chan []models.Task
}

// NewReconciler creates a reconciler consulting the given tombstone tracker
// and transition observer. Either may be nil in tests.
func NewReconciler(tombstones *TombstoneTracker, observer TransitionObserver) *Reconciler {
	return &Reconciler{
		tasks:           make(map[int64]*models.Task),
		staleCandidates: make(map[int64]bool),
		tombstones:      tombstones,
		observer:        observer,
	}
}

// SetRefetch installs the callback used to schedule an authoritative
// snapshot refetch when a held task disappears from a poll snapshot.
func (r *Reconciler) SetRefetch(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refetch = fn
}

// Apply merges one normalized update into the collection.
//
// Merge rules, in order:
//  1. Tombstoned ID: discard — the user's removal wins over any report of
//     the task's continued existence.
//  2. Terminal status: remove the entry if present (completion notification
//     side effect fires through the observer before removal).
//  3. Retained status, known ID: replace fields in place.
//  4. Retained status, unknown ID: insert at the front.
func (r *Reconciler) Apply(update models.TaskUpdate) {
	r.mu.Lock()
	task := update.Task

	if r.tombstones != nil && r.tombstones.Buried(task.ID) {
		r.mu.Unlock()
		metrics.UpdatesApplied.WithLabelValues(string(update.Source), "suppressed").Inc()
		logging.Debug().
			Int64("task_id", task.ID).
			Str("source", string(update.Source)).
			Msg("update suppressed by tombstone")
		return
	}

	prev, known := r.previousStatus(task.ID)
	if r.observer != nil {
		r.observer.ObserveTransition(prev, known, task)
	}

	var action string
	switch {
	case task.Status.Terminal():
		if known {
			r.remove(task.ID)
		}
		action = "remove"

	case known:
		// Last-writer-wins by arrival order: within each source delivery
		// preserves causal order, and cross-source staleness is bounded by
		// the poll interval.
		copied := task
		r.tasks[task.ID] = &copied
		delete(r.staleCandidates, task.ID)
		action = "replace"

	case task.Status.Retained():
		r.insertFront(task)
		action = "insert"

	default:
		// Terminal update for an unknown task: nothing to do.
		r.mu.Unlock()
		metrics.UpdatesApplied.WithLabelValues(string(update.Source), "remove").Inc()
		return
	}

	snapshot := r.snapshotLocked()
	metrics.TasksTracked.Set(float64(len(snapshot)))
	r.publishLocked(snapshot)
	r.mu.Unlock()

	metrics.UpdatesApplied.WithLabelValues(string(update.Source), action).Inc()
}

// ApplySnapshot union-reconciles a full poll snapshot against the collection.
//
// Tasks present in the snapshot go through the regular merge rules. A held
// task absent from the snapshot is retained if its status is error (the
// server's current listing may legitimately omit it), removed if a previous
// snapshot already failed to report it, and otherwise marked provisionally
// stale with one authoritative refetch scheduled to resolve its true state.
// Tombstones for absent IDs are cleared: the server has confirmed the
// removal the user asked for.
func (r *Reconciler) ApplySnapshot(tasks []models.Task, source models.UpdateSource) {
	present := make(map[int64]bool, len(tasks))
	for i := range tasks {
		present[tasks[i].ID] = true
	}

	r.mu.Lock()
	needRefetch := false

	for _, id := range append([]int64(nil), r.order...) {
		if present[id] {
			continue
		}
		held := r.tasks[id]
		if held.Status == models.StatusError {
			// Deliberately retained until the user dismisses it.
			continue
		}
		if r.staleCandidates[id] {
			// Second consecutive absence: the authoritative refetch also
			// does not report it. Gone server-side; drop it without
			// inventing a terminal status.
			r.remove(id)
			metrics.UpdatesApplied.WithLabelValues(string(source), "remove").Inc()
			continue
		}
		r.staleCandidates[id] = true
		needRefetch = true
	}

	refetch := r.refetch
	r.mu.Unlock()

	// Server-confirmed absences clear their tombstones.
	if r.tombstones != nil {
		r.tombstones.ConfirmAbsences(present)
	}

	for i := range tasks {
		r.Apply(models.TaskUpdate{Task: tasks[i], Source: source})
	}

	r.mu.Lock()
	snapshot := r.snapshotLocked()
	metrics.TasksTracked.Set(float64(len(snapshot)))
	r.publishLocked(snapshot)
	r.mu.Unlock()

	if needRefetch && refetch != nil {
		logging.Debug().Msg("held task missing from snapshot, scheduling authoritative refetch")
		refetch()
	}
}

// RemoveLocal removes a task optimistically on user cancel/delete, before
// the server acknowledges. The caller is responsible for burying the ID
// first so in-flight updates cannot resurrect it.
func (r *Reconciler) RemoveLocal(id int64) {
	r.mu.Lock()
	_, known := r.tasks[id]
	if known {
		r.remove(id)
		snapshot := r.snapshotLocked()
		metrics.TasksTracked.Set(float64(len(snapshot)))
		r.publishLocked(snapshot)
	}
	r.mu.Unlock()
}

// Tasks returns a copy of the collection in display order.
func (r *Reconciler) Tasks() []models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of tracked tasks.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Subscribe registers a consumer of collection states. Each change delivers
// a full copy; slow consumers miss intermediate states rather than blocking
// the reconciler.
func (r *Reconciler) Subscribe() <-chan []models.Task {
	ch := make(chan []models.Task, 16)
	r.mu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.mu.Unlock()
	return ch
}

// previousStatus returns the held status for an ID (must be called with mu
// held).
func (r *Reconciler) previousStatus(id int64) (models.TaskStatus, bool) {
	if t, ok := r.tasks[id]; ok {
		return t.Status, true
	}
	return "", false
}

// insertFront inserts a task at the front of the display order (must be
// called with mu held).
func (r *Reconciler) insertFront(task models.Task) {
	copied := task
	r.tasks[task.ID] = &copied
	r.order = append([]int64{task.ID}, r.order...)
	delete(r.staleCandidates, task.ID)
}

// remove deletes a task from both indexes (must be called with mu held).
func (r *Reconciler) remove(id int64) {
	delete(r.tasks, id)
	delete(r.staleCandidates, id)
	for i, held := range r.order {
		if held == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// snapshotLocked copies the collection in display order (must be called
// with mu held).
func (r *Reconciler) snapshotLocked() []models.Task {
	out := make([]models.Task, 0, len(r.order))
	for _, id := range r.order {
		if t, ok := r.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// publishLocked fans a collection state out to subscribers without
// blocking (must be called with mu held). Publishing inside the critical
// section that produced the state means concurrent writers cannot deliver
// an older state after a newer one.
func (r *Reconciler) publishLocked(snapshot []models.Task) {
	for _, ch := range r.subscribers {
		select {
		case ch <- snapshot:
		default:
			logging.Warn().Msg("task view subscriber full, dropping state")
		}
	}
}
