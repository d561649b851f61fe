// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package metrics exposes Prometheus instrumentation for the editor:
// command throughput, store latency, live sessions, and websocket
// connection counts. Collectors are registered via promauto and served
// from /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Editor command metrics.

	CommandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourforge_commands_total",
			Help: "Editor commands processed, by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: "ok", "error"
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourforge_command_duration_seconds",
			Help:    "End-to-end duration of editor commands, including the store write-through",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Session and connection metrics.

	EditingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourforge_editing_sessions",
			Help: "Live (user, tour) editing sessions in the registry",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tourforge_websocket_clients",
			Help: "Currently connected websocket clients",
		},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourforge_auth_attempts_total",
			Help: "Authentication attempts, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: "login", "register", "restore"
	)

	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tourforge_auth_sessions_swept_total",
			Help: "Expired auth sessions removed by the periodic sweep",
		},
	)

	// Store metrics.

	StoreCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tourforge_store_call_duration_seconds",
			Help:    "Duration of persistence gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	StoreCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tourforge_store_call_errors_total",
			Help: "Failed persistence gateway calls",
		},
		[]string{"call"},
	)
)

// ObserveCommand records one processed command.
func ObserveCommand(action string, start time.Time, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	CommandsProcessed.WithLabelValues(action, outcome).Inc()
	CommandDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// ObserveStoreCall records one gateway call.
func ObserveStoreCall(call string, start time.Time, err error) {
	StoreCallDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreCallErrors.WithLabelValues(call).Inc()
	}
}
