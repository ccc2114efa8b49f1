// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// SweeperConfig holds configuration for the dynamic-tier eviction
// sweeper.
//
// # Fields
//
//   - Interval: How often to run a sweep cycle. Default: 1 hour.
//   - MaxAge: Dynamic entries older than this are removed. Default: 7 days.
//   - MaxEntries: After the age pass, the oldest entries beyond this
//     count are removed. Default: 2048.
type SweeperConfig struct {
	Interval   time.Duration
	MaxAge     time.Duration
	MaxEntries int
}

// DefaultSweeperConfig returns production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   1 * time.Hour,
		MaxAge:     7 * 24 * time.Hour,
		MaxEntries: 2048,
	}
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	// Scanned is the number of dynamic entries examined.
	Scanned int

	// ExpiredRemoved is the number removed by the age pass.
	ExpiredRemoved int

	// CapRemoved is the number removed by the count-cap pass.
	CapRemoved int

	// Duration is the wall time of the cycle.
	Duration time.Duration
}

// Sweeper evicts dynamic-tier entries by age and count.
//
// # Description
//
// The dynamic tier captures every same-origin GET during browsing and
// would otherwise grow without bound on a long-running installation.
// The sweeper runs on a ticker (ticker + done channel, stoppable) and
// applies two passes: entries older than MaxAge go first, then the
// oldest-stored entries beyond MaxEntries.
//
// Shell and static tiers are never swept; they are replaced wholesale
// on a version bump instead.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Sweeper struct {
	tiers  *TierManager
	config SweeperConfig
	logger *slog.Logger

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper over the given tier manager.
func NewSweeper(tiers *TierManager, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tiers:  tiers,
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
//
// # Outputs
//
//   - error: Non-nil if the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("dynamic cache sweeper starting",
		"interval", s.config.Interval.String(),
		"max_age", s.config.MaxAge.String(),
		"max_entries", s.config.MaxEntries,
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to stop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.done)
	s.running = false
}

// RunNow performs an immediate sweep cycle without waiting for the
// next tick.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			result, err := s.sweep(ctx)
			if err != nil {
				s.logger.Error("dynamic cache sweep failed", "error", err)
				continue
			}
			if result.ExpiredRemoved > 0 || result.CapRemoved > 0 {
				s.logger.Info("dynamic cache sweep completed",
					"scanned", result.Scanned,
					"expired_removed", result.ExpiredRemoved,
					"cap_removed", result.CapRemoved,
					"duration_ms", result.Duration.Milliseconds(),
				)
			}
		}
	}
}

// sweptEntry pairs a storage key with its stored-at timestamp.
type sweptEntry struct {
	key      []byte
	storedAt time.Time
}

func (s *Sweeper) sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	result := SweepResult{}

	prefix := []byte(keyPrefix + s.tiers.Manifest().TierName(TierDynamic) + "/")
	cutoff := time.Now().Add(-s.config.MaxAge)

	var expired [][]byte
	var live []sweptEntry
	err := s.tiers.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			result.Scanned++
			item := it.Item()
			key := item.KeyCopy(nil)

			var cr CapturedResponse
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &cr)
			}); err != nil {
				// Undecodable entry: treat as expired.
				expired = append(expired, key)
				continue
			}
			if cr.StoredAt.Before(cutoff) {
				expired = append(expired, key)
			} else {
				live = append(live, sweptEntry{key: key, storedAt: cr.StoredAt})
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scan dynamic tier: %w", err)
	}

	for _, key := range expired {
		if err := s.delete(ctx, key); err != nil {
			return result, err
		}
		result.ExpiredRemoved++
	}

	// Count-cap pass: drop the oldest entries beyond the cap.
	if s.config.MaxEntries > 0 && len(live) > s.config.MaxEntries {
		sort.Slice(live, func(i, j int) bool {
			return live[i].storedAt.Before(live[j].storedAt)
		})
		for _, e := range live[:len(live)-s.config.MaxEntries] {
			if err := s.delete(ctx, e.key); err != nil {
				return result, err
			}
			result.CapRemoved++
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (s *Sweeper) delete(ctx context.Context, key []byte) error {
	return s.tiers.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}
