// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the sync
// gateway.
//
// # Description
//
// Metrics cover the two subsystems whose behavior is worth watching in
// production: the response cache (hit/miss per tier, strategy
// outcomes) and the mutation queue (depth, replay outcomes, drain
// latency). Exposed via the /metrics endpoint; all operations are
// thread-safe through Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all gateway metrics.
const metricsNamespace = "ledgerlocal"

// Subsystem for sync gateway metrics.
const gatewaySubsystem = "gateway"

// Metrics holds all Prometheus metrics for the sync gateway.
type Metrics struct {
	// CacheLookupsTotal counts cache lookups by tier outcome.
	// Labels: result (hit_shell, hit_static, hit_dynamic, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// StrategyResponsesTotal counts interceptor responses by strategy
	// and source.
	// Labels: strategy (network_first, cache_first, passthrough),
	// source (network, cache, offline_fallback)
	StrategyResponsesTotal *prometheus.CounterVec

	// QueueDepth tracks the number of persisted pending mutations.
	QueueDepth prometheus.Gauge

	// ReplaysTotal counts queue replay attempts by outcome.
	// Labels: outcome (success, retryable, permanent)
	ReplaysTotal *prometheus.CounterVec

	// DrainDurationSeconds measures full drain passes.
	DrainDurationSeconds prometheus.Histogram

	// Online reports connectivity: 1 when the upstream is reachable.
	Online prometheus.Gauge

	// ConnectedViews tracks websocket-connected application views.
	ConnectedViews prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// InitMetrics initializes and registers the gateway metrics.
//
// # Description
//
// Registers against the default Prometheus registry. Safe to call more
// than once; subsequent calls return the same instance (promauto
// panics on duplicate registration otherwise).
//
// # Outputs
//
//   - *Metrics: The process-wide metrics instance.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		defaultMetrics = &Metrics{
			CacheLookupsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "cache_lookups_total",
					Help:      "Cache lookups by tier outcome",
				},
				[]string{"result"},
			),
			StrategyResponsesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "strategy_responses_total",
					Help:      "Interceptor responses by strategy and source",
				},
				[]string{"strategy", "source"},
			),
			QueueDepth: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "queue_depth",
					Help:      "Number of persisted pending mutations",
				},
			),
			ReplaysTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "replays_total",
					Help:      "Queue replay attempts by outcome",
				},
				[]string{"outcome"},
			),
			DrainDurationSeconds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "drain_duration_seconds",
					Help:      "Duration of full queue drain passes",
					Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
			),
			Online: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "online",
					Help:      "1 when the upstream backend is reachable",
				},
			),
			ConnectedViews: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: gatewaySubsystem,
					Name:      "connected_views",
					Help:      "Websocket-connected application views",
				},
			),
		}
	})
	return defaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// All helpers are nil-safe so components can run without metrics in
// tests.

// RecordCacheLookup records a lookup outcome ("hit_<tier>" or "miss").
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordStrategyResponse records where an intercepted response came
// from.
func (m *Metrics) RecordStrategyResponse(strategy, source string) {
	if m == nil {
		return
	}
	m.StrategyResponsesTotal.WithLabelValues(strategy, source).Inc()
}

// SetQueueDepth updates the pending-mutation gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordReplay records one replay outcome.
func (m *Metrics) RecordReplay(outcome string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(outcome).Inc()
}

// RecordDrainDuration records a full drain pass.
func (m *Metrics) RecordDrainDuration(seconds float64) {
	if m == nil {
		return
	}
	m.DrainDurationSeconds.Observe(seconds)
}

// SetOnline updates the connectivity gauge.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
	} else {
		m.Online.Set(0)
	}
}

// ViewConnected increments the connected-views gauge.
func (m *Metrics) ViewConnected() {
	if m == nil {
		return
	}
	m.ConnectedViews.Inc()
}

// ViewDisconnected decrements the connected-views gauge.
func (m *Metrics) ViewDisconnected() {
	if m == nil {
		return
	}
	m.ConnectedViews.Dec()
}
