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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesExpiredEntries(t *testing.T) {
	tiers := newTestTiers(t, "http://upstream.local", testManifest())
	ctx := context.Background()

	old := time.Now().Add(-8 * 24 * time.Hour)
	tiers.Put(ctx, TierDynamic, "/api/old", &CapturedResponse{Status: 200, Body: []byte("old"), StoredAt: old})
	tiers.Put(ctx, TierDynamic, "/api/fresh", &CapturedResponse{Status: 200, Body: []byte("fresh")})

	sweeper := NewSweeper(tiers, DefaultSweeperConfig(), nil)
	result, err := sweeper.RunNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.ExpiredRemoved)
	assert.Equal(t, 0, result.CapRemoved)

	_, ok := tiers.Match(ctx, "/api/old")
	assert.False(t, ok)
	_, ok = tiers.Match(ctx, "/api/fresh")
	assert.True(t, ok)
}

func TestSweepEnforcesEntryCap(t *testing.T) {
	tiers := newTestTiers(t, "http://upstream.local", testManifest())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		tiers.Put(ctx, TierDynamic, fmt.Sprintf("/api/page/%d", i), &CapturedResponse{
			Status:   200,
			Body:     []byte("x"),
			StoredAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	cfg := DefaultSweeperConfig()
	cfg.MaxEntries = 4
	sweeper := NewSweeper(tiers, cfg, nil)

	result, err := sweeper.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExpiredRemoved)
	assert.Equal(t, 6, result.CapRemoved)

	// The oldest entries go; the newest stay.
	_, ok := tiers.Match(ctx, "/api/page/0")
	assert.False(t, ok)
	_, ok = tiers.Match(ctx, "/api/page/9")
	assert.True(t, ok)

	count, err := tiers.EntryCount(ctx, TierDynamic)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestSweepLeavesShellAndStaticAlone(t *testing.T) {
	tiers := newTestTiers(t, "http://upstream.local", testManifest())
	ctx := context.Background()

	old := time.Now().Add(-30 * 24 * time.Hour)
	tiers.Put(ctx, TierShell, "/", &CapturedResponse{Status: 200, Body: []byte("shell"), StoredAt: old})
	tiers.Put(ctx, TierStatic, "/assets/app.js", &CapturedResponse{Status: 200, Body: []byte("static"), StoredAt: old})

	sweeper := NewSweeper(tiers, DefaultSweeperConfig(), nil)
	result, err := sweeper.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)

	_, ok := tiers.Match(ctx, "/")
	assert.True(t, ok)
	_, ok = tiers.Match(ctx, "/assets/app.js")
	assert.True(t, ok)
}

func TestSweeperStartStop(t *testing.T) {
	tiers := newTestTiers(t, "http://upstream.local", testManifest())

	sweeper := NewSweeper(tiers, DefaultSweeperConfig(), nil)
	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()), "second start is rejected")

	sweeper.Stop()
	sweeper.Stop() // idempotent
}
