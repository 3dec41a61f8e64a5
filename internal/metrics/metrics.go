// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package metrics exposes Prometheus instrumentation for the sync engine:
// connection lifecycle, update flow, reconciler state and notification
// side effects. Scraped via the local HTTP surface at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection Manager metrics
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pullwatch_connection_state",
			Help: "Push channel state (0=closed, 1=connecting, 2=open)",
		},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pullwatch_reconnect_attempts_total",
			Help: "Total number of push channel reconnect attempts",
		},
	)

	LivenessTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pullwatch_liveness_timeouts_total",
			Help: "Total number of half-open connections force-closed after missing liveness replies",
		},
	)

	ProbesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pullwatch_probes_sent_total",
			Help: "Total number of liveness probes sent on the push channel",
		},
	)

	// Update flow metrics
	UpdatesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pullwatch_updates_applied_total",
			Help: "Total number of task updates applied by the reconciler",
		},
		[]string{"source", "action"}, // source: push|poll; action: insert|replace|remove|suppressed
	)

	MalformedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pullwatch_malformed_messages_total",
			Help: "Total number of unparseable push messages dropped",
		},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pullwatch_poll_duration_seconds",
			Help:    "Duration of poll fallback snapshot fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pullwatch_poll_errors_total",
			Help: "Total number of failed poll snapshot fetches",
		},
	)

	// Reconciler state metrics
	TasksTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pullwatch_tasks_tracked",
			Help: "Current number of tasks in the local collection",
		},
	)

	TombstonesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pullwatch_tombstones_active",
			Help: "Current number of tombstoned task IDs",
		},
	)

	// Notification metrics
	NotificationsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pullwatch_notifications_fired_total",
			Help: "Total number of desktop notifications fired",
		},
		[]string{"transition"}, // complete|error
	)

	// Circuit breaker metrics for the REST collaborator
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pullwatch_circuit_breaker_state",
			Help: "REST client circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pullwatch_circuit_breaker_requests_total",
			Help: "Total REST requests by circuit breaker outcome",
		},
		[]string{"outcome"}, // success|failure|rejected
	)
)
