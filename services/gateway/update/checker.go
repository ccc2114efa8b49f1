// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package update tracks new app versions and activates them.
//
// A "version" is a cache manifest generation. The checker
// periodically fetches the upstream manifest even without any view
// activity; a new version token becomes installed-and-waiting until
// Apply activates it: stale tiers are purged, the new shell and static
// sets are populated, and every open view is told to reload so stale
// and fresh versions never coexist.
package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/cache"
)

// Announcer is the slice of the views hub the checker needs.
type Announcer interface {
	AnnounceUpdate(version string)
	RequestReload()
}

// Checker polls for a newer manifest and performs activation.
//
// # Thread Safety
//
// Safe for concurrent use; the waiting manifest is mutex-guarded.
type Checker struct {
	tiers       *cache.TierManager
	client      *http.Client
	manifestURL string
	interval    time.Duration
	announcer   Announcer
	logger      *slog.Logger

	mu      sync.Mutex
	waiting *cache.Manifest
	done    chan struct{}
	running bool
}

// NewChecker creates a checker.
//
// # Inputs
//
//   - tiers: The tier manager to activate new generations on.
//   - client: HTTP client for manifest fetches. If nil,
//     http.DefaultClient.
//   - manifestURL: Absolute URL of the upstream manifest YAML.
//   - interval: Poll interval, on the order of minutes. Zero means 5
//     minutes.
//   - announcer: Views hub. May be nil.
//   - logger: If nil, slog.Default().
func NewChecker(tiers *cache.TierManager, client *http.Client, manifestURL string, interval time.Duration, announcer Announcer, logger *slog.Logger) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		tiers:       tiers,
		client:      client,
		manifestURL: manifestURL,
		interval:    interval,
		announcer:   announcer,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start begins periodic version checks.
func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("update checker is already running")
	}
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info("update checker starting", "interval", c.interval.String())
	go c.runLoop(ctx)
	return nil
}

// Stop halts the checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.done)
	c.running = false
}

// UpdateAvailable reports whether a newer version is installed and
// waiting to activate, and its token.
func (c *Checker) UpdateAvailable() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting == nil {
		return false, ""
	}
	return true, c.waiting.Version
}

// CheckNow fetches the upstream manifest once and records a waiting
// update when the version token changed.
func (c *Checker) CheckNow(ctx context.Context) error {
	m, err := c.fetchManifest(ctx)
	if err != nil {
		return err
	}
	c.Offer(m)
	return nil
}

// Offer registers a manifest as the waiting update if its version
// differs from the active one. Used by CheckNow and by the local
// manifest file watcher.
func (c *Checker) Offer(m *cache.Manifest) {
	active := c.tiers.Manifest().Version
	if m.Version == active {
		return
	}

	c.mu.Lock()
	already := c.waiting != nil && c.waiting.Version == m.Version
	c.waiting = m
	c.mu.Unlock()

	if !already {
		c.logger.Info("new version installed and waiting",
			"active", active,
			"waiting", m.Version,
		)
		if c.announcer != nil {
			c.announcer.AnnounceUpdate(m.Version)
		}
	}
}

// Apply activates the waiting version.
//
// # Description
//
// Swaps the waiting manifest in, deletes every tier generation that is
// not one of the three new names, re-populates the shell and static
// tiers, then tells every open view to reload.
//
// # Outputs
//
//   - error: Non-nil when no update is waiting or the purge fails.
//     Pre-cache failures are per-item and do not fail activation.
func (c *Checker) Apply(ctx context.Context) error {
	c.mu.Lock()
	m := c.waiting
	c.waiting = nil
	c.mu.Unlock()

	if m == nil {
		return fmt.Errorf("no update waiting")
	}

	c.logger.Info("activating version", "version", m.Version)
	c.tiers.SetManifest(m)

	if _, err := c.tiers.PurgeStaleTiers(ctx); err != nil {
		return fmt.Errorf("purge stale tiers: %w", err)
	}
	if err := c.tiers.EnsureShellPopulated(ctx); err != nil {
		return err
	}
	if err := c.tiers.EnsureStaticPopulated(ctx); err != nil {
		return err
	}

	if c.announcer != nil {
		c.announcer.RequestReload()
	}
	c.logger.Info("version activated", "version", m.Version)
	return nil
}

func (c *Checker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.CheckNow(ctx); err != nil {
				// An unreachable upstream is the common case offline.
				c.logger.Debug("version check failed", "error", err)
			}
		}
	}
}

func (c *Checker) fetchManifest(ctx context.Context) (*cache.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return cache.ParseManifest(data)
}
