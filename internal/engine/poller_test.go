// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pullwatch/pullwatch/internal/models"
)

// fakeClient is an in-memory ServerClient for poller and engine tests.
type fakeClient struct {
	mu        sync.Mutex
	tasks     []models.Task
	getErr    error
	cancelErr error
	getCalls  atomic.Int64
	cancelled []int64
	nextID    int64
}

func (f *fakeClient) GetTasks(ctx context.Context) ([]models.Task, error) {
	f.getCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return append([]models.Task(nil), f.tasks...), nil
}

func (f *fakeClient) Submit(ctx context.Context, uri string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	task := models.Task{ID: f.nextID, URI: uri, Status: models.StatusQueued}
	f.tasks = append(f.tasks, task)
	return &task, nil
}

func (f *fakeClient) Cancel(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeClient) setTasks(tasks []models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = tasks
}

func TestPollerDeliversSnapshots(t *testing.T) {
	client := &fakeClient{tasks: []models.Task{{ID: 1, Status: models.StatusActive}}}

	snapshots := make(chan []models.Task, 16)
	p := NewPoller(client, 10*time.Millisecond, nil, func(tasks []models.Task) {
		snapshots <- tasks
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	select {
	case tasks := <-snapshots:
		if len(tasks) != 1 || tasks[0].ID != 1 {
			t.Errorf("snapshot = %+v, want single task 1", tasks)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestPollerSuppressedWhilePushOpen(t *testing.T) {
	client := &fakeClient{}

	var suppressed atomic.Bool
	suppressed.Store(true)

	p := NewPoller(client, 10*time.Millisecond, suppressed.Load, func([]models.Task) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	time.Sleep(100 * time.Millisecond)
	if got := client.getCalls.Load(); got != 0 {
		t.Fatalf("suppressed poller made %d requests", got)
	}

	// Push channel drops: ticks resume fetching.
	suppressed.Store(false)
	deadline := time.After(time.Second)
	for client.getCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("poller never resumed after suppression lifted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPollerPollNowBypassesSuppression(t *testing.T) {
	client := &fakeClient{}

	snapshots := make(chan []models.Task, 1)
	p := NewPoller(client, time.Hour, func() bool { return true }, func(tasks []models.Task) {
		snapshots <- tasks
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	p.PollNow()

	select {
	case <-snapshots:
	case <-time.After(time.Second):
		t.Fatal("PollNow did not trigger a poll")
	}
}

func TestPollerPollNowCoalesces(t *testing.T) {
	p := NewPoller(&fakeClient{}, time.Hour, nil, nil)

	// Not running: requests pile into the buffer, which holds exactly one.
	p.PollNow()
	p.PollNow()
	p.PollNow()

	if got := len(p.pollNow); got != 1 {
		t.Errorf("pending polls = %d, want 1", got)
	}
}

func TestPollerSurvivesFetchErrors(t *testing.T) {
	client := &fakeClient{getErr: errors.New("server down")}

	p := NewPoller(client, 10*time.Millisecond, nil, func([]models.Task) {
		t.Error("snapshot delivered despite fetch error")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Serve(ctx)

	// Several failing ticks, then recovery.
	deadline := time.After(time.Second)
	for client.getCalls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("poller stopped retrying after errors")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	p := NewPoller(&fakeClient{}, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return on cancel")
	}
}
