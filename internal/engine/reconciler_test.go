// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/pullwatch/pullwatch/internal/models"
)

// recordedTransition captures one ObserveTransition call.
type recordedTransition struct {
	prev  models.TaskStatus
	known bool
	next  models.Task
}

// fakeObserver records transitions for assertions.
type fakeObserver struct {
	mu          sync.Mutex
	transitions []recordedTransition
}

func (f *fakeObserver) ObserveTransition(prev models.TaskStatus, known bool, next models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, recordedTransition{prev: prev, known: known, next: next})
}

func (f *fakeObserver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transitions)
}

func pushUpdate(task models.Task) models.TaskUpdate {
	return models.TaskUpdate{Task: task, Source: models.SourcePush, ReceivedAt: time.Now()}
}

func taskIDs(tasks []models.Task) []int64 {
	ids := make([]int64, len(tasks))
	for i := range tasks {
		ids[i] = tasks[i].ID
	}
	return ids
}

func TestReconcilerInsertAtFront(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 1, URI: "magnet:a", Status: models.StatusQueued}))
	r.Apply(pushUpdate(models.Task{ID: 2, URI: "magnet:b", Status: models.StatusActive}))
	r.Apply(pushUpdate(models.Task{ID: 3, URI: "magnet:c", Status: models.StatusQueued}))

	got := taskIDs(r.Tasks())
	want := []int64{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReconcilerReplaceInPlace(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusQueued}))
	r.Apply(pushUpdate(models.Task{ID: 2, Status: models.StatusQueued}))

	// Updating task 1 must not move it or duplicate it.
	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive, CompletedBytes: 512}))

	tasks := r.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != 2 || tasks[1].ID != 1 {
		t.Errorf("order = %v, want [2 1]", taskIDs(tasks))
	}
	if tasks[1].Status != models.StatusActive || tasks[1].CompletedBytes != 512 {
		t.Errorf("task 1 fields not replaced: %+v", tasks[1])
	}
}

func TestReconcilerNoDuplicateIDs(t *testing.T) {
	r := NewReconciler(nil, nil)

	for i := 0; i < 5; i++ {
		r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive, CompletedBytes: int64(i)}))
	}

	if got := r.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestReconcilerTerminalRemoves(t *testing.T) {
	tests := []struct {
		name   string
		status models.TaskStatus
	}{
		{"complete", models.StatusComplete},
		{"cancelled", models.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(nil, nil)
			r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))
			r.Apply(pushUpdate(models.Task{ID: 1, Status: tt.status}))

			if got := r.Len(); got != 0 {
				t.Errorf("Len() = %d, want 0 after terminal status", got)
			}
		})
	}
}

func TestReconcilerTerminalForUnknownIsNoop(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 9, Status: models.StatusCancelled}))
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestReconcilerTombstonePrecedence(t *testing.T) {
	tr := NewTombstoneTracker(time.Minute)
	obs := &fakeObserver{}
	r := NewReconciler(tr, obs)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))

	// User removes the task; a late in-flight update must not resurrect it.
	tr.Bury(1)
	r.RemoveLocal(1)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive, CompletedBytes: 100}))
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0: tombstoned update applied", got)
	}

	// Suppressed updates must not reach the transition observer either.
	if got := obs.count(); got != 1 {
		t.Errorf("observer saw %d transitions, want 1 (only the initial insert)", got)
	}
}

func TestReconcilerObserverSeesPreviousStatus(t *testing.T) {
	obs := &fakeObserver{}
	r := NewReconciler(nil, obs)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))
	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusComplete}))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.transitions) != 2 {
		t.Fatalf("got %d transitions, want 2", len(obs.transitions))
	}
	first, second := obs.transitions[0], obs.transitions[1]
	if first.known {
		t.Error("first transition should report the task as unknown")
	}
	if !second.known || second.prev != models.StatusActive {
		t.Errorf("second transition = {prev:%q known:%v}, want {prev:active known:true}", second.prev, second.known)
	}
	if second.next.Status != models.StatusComplete {
		t.Errorf("second transition next status = %q, want complete", second.next.Status)
	}
}

func TestReconcilerSnapshotErrorTaskRetained(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusError, Error: "disk full"}))

	// Errored tasks stay until the user dismisses them, even across many
	// snapshots that no longer report them.
	for i := 0; i < 3; i++ {
		r.ApplySnapshot([]models.Task{{ID: 2, Status: models.StatusActive}}, models.SourcePoll)
	}

	tasks := r.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	found := false
	for _, task := range tasks {
		if task.ID == 1 && task.Status == models.StatusError {
			found = true
		}
	}
	if !found {
		t.Error("errored task dropped on snapshot absence")
	}
}

func TestReconcilerSnapshotTwoStrikeRemoval(t *testing.T) {
	r := NewReconciler(nil, nil)

	refetches := 0
	r.SetRefetch(func() { refetches++ })

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))

	// First absence: kept, marked stale, one refetch scheduled.
	r.ApplySnapshot(nil, models.SourcePoll)
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d after first absence, want 1", got)
	}
	if refetches != 1 {
		t.Fatalf("refetches = %d after first absence, want 1", refetches)
	}

	// Second consecutive absence: removed without inventing a status.
	r.ApplySnapshot(nil, models.SourcePoll)
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d after second absence, want 0", got)
	}
}

func TestReconcilerSnapshotReappearanceClearsStaleMark(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.SetRefetch(func() {})

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))

	r.ApplySnapshot(nil, models.SourcePoll)
	r.ApplySnapshot([]models.Task{{ID: 1, Status: models.StatusActive}}, models.SourcePoll)
	// The mark was cleared by the reappearance; this absence is a fresh
	// first strike.
	r.ApplySnapshot(nil, models.SourcePoll)

	if got := r.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1: non-consecutive absences must not remove", got)
	}
}

func TestReconcilerSnapshotConfirmsTombstoneAbsence(t *testing.T) {
	tr := NewTombstoneTracker(time.Minute)
	r := NewReconciler(tr, nil)

	tr.Bury(5)
	r.ApplySnapshot([]models.Task{{ID: 6, Status: models.StatusActive}}, models.SourcePoll)

	if tr.Buried(5) {
		t.Error("expected snapshot absence to clear the tombstone")
	}
}

func TestReconcilerSnapshotMergesPresent(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusQueued}))
	r.ApplySnapshot([]models.Task{
		{ID: 1, Status: models.StatusActive, CompletedBytes: 10},
		{ID: 2, Status: models.StatusQueued},
	}, models.SourcePoll)

	tasks := r.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	// Task 1 was already held so it keeps its position; task 2 is new and
	// inserted at the front.
	if tasks[0].ID != 2 {
		t.Errorf("front task = %d, want 2", tasks[0].ID)
	}
	if tasks[1].Status != models.StatusActive || tasks[1].CompletedBytes != 10 {
		t.Errorf("task 1 not updated from snapshot: %+v", tasks[1])
	}
}

func TestReconcilerRemoveLocal(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))
	r.RemoveLocal(1)
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}

	// Removing an unknown ID is a no-op.
	r.RemoveLocal(99)
}

func TestReconcilerSubscribePublishesStates(t *testing.T) {
	r := NewReconciler(nil, nil)
	ch := r.Subscribe()

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusQueued}))

	select {
	case snapshot := <-ch:
		if len(snapshot) != 1 || snapshot[0].ID != 1 {
			t.Errorf("snapshot = %v, want single task 1", taskIDs(snapshot))
		}
	case <-time.After(time.Second):
		t.Fatal("no collection state published")
	}
}

func TestReconcilerConcurrentPublishOrdering(t *testing.T) {
	r := NewReconciler(nil, nil)
	ch := r.Subscribe()

	// Every mutation inserts a distinct task, so collection states grow by
	// one per change. Concurrent writers from the push, poll, and cancel
	// paths must still deliver states in mutation order: the lengths a
	// subscriber sees may skip (slow-consumer drops) but never go backward.
	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := int64(w*perWriter + i + 1)
				r.Apply(pushUpdate(models.Task{ID: id, Status: models.StatusActive}))
			}
		}(w)
	}
	wg.Wait()

	var lengths []int
drain:
	for {
		select {
		case snapshot := <-ch:
			lengths = append(lengths, len(snapshot))
		default:
			break drain
		}
	}

	for i := 1; i < len(lengths); i++ {
		if lengths[i] <= lengths[i-1] {
			t.Fatalf("collection state regressed: length %d delivered after %d", lengths[i], lengths[i-1])
		}
	}
	if got := r.Len(); got != writers*perWriter {
		t.Errorf("Len() = %d, want %d", got, writers*perWriter)
	}
}

func TestReconcilerSnapshotIsACopy(t *testing.T) {
	r := NewReconciler(nil, nil)

	r.Apply(pushUpdate(models.Task{ID: 1, Status: models.StatusActive}))
	tasks := r.Tasks()
	tasks[0].Status = models.StatusCancelled

	if got := r.Tasks()[0].Status; got != models.StatusActive {
		t.Errorf("held status = %q, mutated through returned copy", got)
	}
}
