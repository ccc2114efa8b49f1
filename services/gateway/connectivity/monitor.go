// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connectivity observes online/offline transitions of the
// upstream backend.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/observability"
)

// Probe reports whether the upstream is currently reachable.
type Probe func(ctx context.Context) bool

// TransitionHandler is called on each edge: online=true for
// offline→online, false for online→offline.
type TransitionHandler func(online bool)

// defaultProbeTimeout bounds one reachability check.
const defaultProbeTimeout = 3 * time.Second

// Monitor polls the upstream and fires edge-triggered transition
// callbacks.
//
// # Description
//
// The transition to online is the moment queued offline work becomes
// deliverable, so the gateway wires the handler to trigger a queue
// drain immediately. The monitor starts pessimistic (offline) and
// corrects itself on the first probe.
//
// # Thread Safety
//
// Safe for concurrent use.
type Monitor struct {
	probe    Probe
	interval time.Duration
	handler  TransitionHandler
	metrics  *observability.Metrics
	logger   *slog.Logger

	online  atomic.Bool
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewMonitor creates a monitor.
//
// # Inputs
//
//   - probe: Reachability check. Use HealthProbe for the standard
//     HTTP probe.
//   - interval: Poll interval. Zero means 10 seconds.
//   - handler: Edge-triggered transition callback. May be nil.
//   - metrics: May be nil.
//   - logger: If nil, slog.Default().
func NewMonitor(probe Probe, interval time.Duration, handler TransitionHandler, metrics *observability.Metrics, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		handler:  handler,
		metrics:  metrics,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// HealthProbe returns a Probe that treats any HTTP response from the
// given URL as reachable. Connection errors are the offline signal; a
// 5xx still proves the network path works.
func HealthProbe(client *http.Client, healthURL string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, healthURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// SetHandler installs the transition callback, replacing any previous
// one. The gateway uses it to break the construction cycle between the
// monitor and the replay orchestrator.
func (m *Monitor) SetHandler(handler TransitionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Start begins polling. Runs an immediate first check so the gateway
// does not stay pessimistic for a full interval.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("connectivity monitor starting", "interval", m.interval.String())
	go m.runLoop(ctx)
	return nil
}

// Stop halts polling. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.done)
	m.running = false
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// CheckNow runs one probe immediately and fires the transition handler
// if the state changed.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	now := m.probe(ctx)
	was := m.online.Swap(now)
	m.metrics.SetOnline(now)
	if was != now {
		if now {
			m.logger.Info("upstream reachable, transitioning to online")
		} else {
			m.logger.Warn("upstream unreachable, transitioning to offline")
		}
		m.mu.Lock()
		handler := m.handler
		m.mu.Unlock()
		if handler != nil {
			handler(now)
		}
	}
	return now
}

func (m *Monitor) runLoop(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}
