// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

package engine

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: pure exponential growth from Base,
// capped at Max, plus a random jitter term so many clients recovering at
// once do not reconnect in lockstep.
//
// The zero value is not usable; construct with NewBackoff.
type Backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64 // fraction of the capped delay, 0..1
}

// NewBackoff creates a backoff calculator. Jitter is clamped to [0, 1].
func NewBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return Backoff{base: base, max: max, jitter: jitter}
}

// Delay returns the delay before reconnect attempt number retry (0-based),
// including jitter: min(base * 2^retry, max) + rand * jitter * cap.
func (b Backoff) Delay(retry int) time.Duration {
	capped := b.Capped(retry)
	if b.jitter == 0 {
		return capped
	}
	return capped + time.Duration(rand.Float64()*b.jitter*float64(capped))
}

// Capped returns the deterministic part of the delay for the given retry
// count: min(base * 2^retry, max). Exposed separately so the growth curve
// can be asserted without jitter.
func (b Backoff) Capped(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	// Doubling in a loop rather than shifting avoids overflow for large
	// retry counts.
	d := b.base
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= b.max || d <= 0 {
			return b.max
		}
	}
	if d > b.max {
		return b.max
	}
	return d
}
