// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package models

import "testing"

func TestTaskStatusRetained(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		retained bool
		terminal bool
	}{
		{StatusQueued, true, false},
		{StatusActive, true, false},
		{StatusError, true, false},
		{StatusComplete, false, true},
		{StatusCancelled, false, true},
		{TaskStatus("bogus"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Retained(); got != tt.retained {
				t.Errorf("Retained() = %v, want %v", got, tt.retained)
			}
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestTaskDisplayName(t *testing.T) {
	named := Task{ID: 1, Name: "ubuntu.iso", URI: "https://example.org/ubuntu.iso"}
	if got := named.DisplayName(); got != "ubuntu.iso" {
		t.Errorf("DisplayName() = %q, want name", got)
	}

	unnamed := Task{ID: 2, URI: "magnet:?xt=urn:btih:abc"}
	if got := unnamed.DisplayName(); got != "magnet:?xt=urn:btih:abc" {
		t.Errorf("DisplayName() = %q, want URI fallback", got)
	}
}
