// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package models defines the task data model and the wire formats shared
// by the push channel and the REST collaborator.
package models

import "time"

// TaskStatus is the lifecycle status reported by the download server.
type TaskStatus string

// Task lifecycle statuses.
//
// queued, active and error are retained locally. complete and cancelled are
// terminal: a task reaching them is removed from the local collection (the
// historical record lives server-side).
const (
	StatusQueued    TaskStatus = "queued"
	StatusActive    TaskStatus = "active"
	StatusError     TaskStatus = "error"
	StatusComplete  TaskStatus = "complete"
	StatusCancelled TaskStatus = "cancelled"
)

// Retained reports whether a task with this status stays in the local
// collection.
func (s TaskStatus) Retained() bool {
	switch s {
	case StatusQueued, StatusActive, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether this status ends local tracking of the task.
func (s TaskStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// Task is a single tracked download, identified by a stable server-assigned ID.
type Task struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name,omitempty"`
	URI            string     `json:"uri"`
	Status         TaskStatus `json:"status"`
	TotalBytes     int64      `json:"total_bytes"`
	CompletedBytes int64      `json:"completed_bytes"`
	RateBPS        int64      `json:"rate_bps"`
	Error          string     `json:"error,omitempty"`
}

// DisplayName returns the task's display name, falling back to its origin URI.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URI
}

// UpdateSource tags where a TaskUpdate came from.
type UpdateSource string

// Update sources.
const (
	SourcePush UpdateSource = "push"
	SourcePoll UpdateSource = "poll"
)

// TaskUpdate is a normalized event describing a task's new state.
// It is consumed once by the reconciler and not persisted. ReceivedAt is
// client arrival time, recorded for observability only; merge decisions
// never compare timestamps (clock skew against server event time is not
// trusted).
type TaskUpdate struct {
	Task       Task
	Source     UpdateSource
	ReceivedAt time.Time
}
