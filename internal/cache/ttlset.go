// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package cache provides the TTL-bounded set used for tombstone tracking
// and notification deduplication.
package cache

import (
	"sync"
	"time"
)

// entry is a node in the TTL set's doubly-linked recency list.
type entry struct {
	key       string
	addedAt   time.Time
	prev      *entry
	next      *entry
	expiresAt time.Time
}

// TTLSet is a thread-safe set with per-entry TTL and LRU-bounded capacity.
// It provides O(1) Add, Contains and Remove, and O(1) eviction when the
// capacity bound is reached, using a doubly-linked list for recency order
// and a map for lookups.
//
// Capacity bounding matters here: tombstones are cleared lazily, so without
// a bound a client that never polls could accumulate entries forever.
type TTLSet struct {
	mu sync.RWMutex

	// capacity is the maximum number of entries.
	capacity int

	// ttl is the time-to-live for entries.
	ttl time.Duration

	// items maps keys to list nodes for O(1) lookup.
	items map[string]*entry

	// head and tail are sentinel nodes; head.next is the most recently
	// used, tail.prev the least recently used.
	head *entry
	tail *entry
}

// NewTTLSet creates a TTL set with the given capacity and TTL.
// Non-positive values fall back to defaults (1024 entries, 5 minutes).
func NewTTLSet(capacity int, ttl time.Duration) *TTLSet {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	s := &TTLSet{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
	}

	s.head.next = s.tail
	s.tail.prev = s.head

	return s
}

// Add inserts or refreshes a key. If the set is at capacity, the least
// recently used entry is evicted.
func (s *TTLSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if e, exists := s.items[key]; exists {
		e.addedAt = now
		e.expiresAt = now.Add(s.ttl)
		s.moveToFront(e)
		return
	}

	e := &entry{
		key:       key,
		addedAt:   now,
		expiresAt: now.Add(s.ttl),
	}
	s.addToFront(e)
	s.items[key] = e

	for len(s.items) > s.capacity {
		s.evictOldest()
	}
}

// Contains reports whether a key is present and not expired.
// It does not update recency order.
func (s *TTLSet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, exists := s.items[key]; exists {
		return !time.Now().After(e.expiresAt)
	}
	return false
}

// Remove deletes a key. Returns true if the key was present.
func (s *TTLSet) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.items[key]; exists {
		s.removeEntry(e)
		return true
	}
	return false
}

// IsDuplicate reports whether the key was already present and unexpired;
// if it was not, the key is recorded. Used for fire-once deduplication.
func (s *TTLSet) IsDuplicate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if e, exists := s.items[key]; exists {
		if !now.After(e.expiresAt) {
			s.moveToFront(e)
			return true
		}
		// Expired entry, remove and treat as new.
		s.removeEntry(e)
	}

	e := &entry{
		key:       key,
		addedAt:   now,
		expiresAt: now.Add(s.ttl),
	}
	s.addToFront(e)
	s.items[key] = e

	for len(s.items) > s.capacity {
		s.evictOldest()
	}

	return false
}

// Keys returns the unexpired keys in recency order, most recent first.
func (s *TTLSet) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(s.items))
	for e := s.head.next; e != s.tail; e = e.next {
		if !now.After(e.expiresAt) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len returns the current number of entries, expired or not.
func (s *TTLSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all entries.
func (s *TTLSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*entry, s.capacity)
	s.head.next = s.tail
	s.tail.prev = s.head
}

// CleanupExpired removes all expired entries and returns how many were removed.
func (s *TTLSet) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	// Walk from tail (oldest) to head (newest).
	for e := s.tail.prev; e != s.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			s.removeEntry(e)
			removed++
		}
		e = prev
	}

	return removed
}

// Internal methods (must be called with lock held)

func (s *TTLSet) addToFront(e *entry) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}

func (s *TTLSet) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	s.addToFront(e)
}

func (s *TTLSet) removeEntry(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(s.items, e.key)
}

func (s *TTLSet) evictOldest() {
	oldest := s.tail.prev
	if oldest == s.head {
		return
	}
	s.removeEntry(oldest)
}
