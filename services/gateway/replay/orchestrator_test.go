// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/queue"
	storage "github.com/jinterlante1206/LedgerLocal/services/gateway/storage/badger"
)

// fakeNotifier records SyncCompleted calls.
type fakeNotifier struct {
	mu    sync.Mutex
	calls [][2]int
}

func (f *fakeNotifier) SyncCompleted(replayed, remaining int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]int{replayed, remaining})
}

func (f *fakeNotifier) lastCall() ([2]int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return [2]int{}, false
	}
	return f.calls[len(f.calls)-1], true
}

func newTestQueue(t *testing.T) *queue.Store {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := queue.NewStore(context.Background(), db, nil)
	require.NoError(t, err)
	return s
}

func alwaysOnline() bool  { return true }
func alwaysOffline() bool { return false }

func TestDrainReplaysAllItems(t *testing.T) {
	var mu sync.Mutex
	var received []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "transaction", queue.ActionCreate, json.RawMessage(`{"amount":"12.00"}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "budget", queue.ActionUpdate, json.RawMessage(`{"id":4,"limit":"300"}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "account", queue.ActionDelete, json.RawMessage(`{"id":8}`))
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	o, err := New(q, nil, server.URL, alwaysOnline, notifier, nil, nil)
	require.NoError(t, err)

	result, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	mu.Lock()
	assert.ElementsMatch(t, []string{
		"POST /transactions",
		"PUT /budgets/4",
		"DELETE /accounts/8",
	}, received)
	mu.Unlock()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "acknowledged items leave the queue")

	last, ok := notifier.lastCall()
	require.True(t, ok)
	assert.Equal(t, [2]int{3, 0}, last)
}

func TestDrainPartialFailureKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/budgets" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "transaction", queue.ActionCreate, json.RawMessage(`{"amount":"1"}`))
	require.NoError(t, err)
	failing, err := q.Enqueue(ctx, "budget", queue.ActionCreate, json.RawMessage(`{"name":"Rent"}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "account", queue.ActionCreate, json.RawMessage(`{"name":"Checking"}`))
	require.NoError(t, err)

	o, err := New(q, nil, server.URL, alwaysOnline, nil, nil, nil)
	require.NoError(t, err)

	result, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	// Only the failed item remains, untouched and still first in line.
	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, failing.ID, items[0].ID)
	assert.Equal(t, 1, items[0].Attempts)
	assert.False(t, items[0].Dead, "5xx is transient, never parks")
}

func TestDrainSkippedWhenOffline(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "transaction", queue.ActionCreate, json.RawMessage(`{"amount":"1"}`))
	require.NoError(t, err)

	o, err := New(q, nil, "http://localhost:1", alwaysOffline, nil, nil, nil)
	require.NoError(t, err)

	result, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainParksAfterRepeatedRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "transaction", queue.ActionCreate, json.RawMessage(`{"amount":"bad"}`))
	require.NoError(t, err)

	o, err := New(q, nil, server.URL, alwaysOnline, nil, nil, nil)
	require.NoError(t, err)

	for i := 0; i < DeadAfterAttempts; i++ {
		result, err := o.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Attempted)
		assert.Equal(t, 1, result.Failed)
	}

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Dead)

	// Parked items are skipped, not retried and not dropped.
	result, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, 1, result.SkippedDead)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainRetriesTimeShaped4xxForever(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "transaction", queue.ActionCreate, json.RawMessage(`{"amount":"1"}`))
	require.NoError(t, err)

	o, err := New(q, nil, server.URL, alwaysOnline, nil, nil, nil)
	require.NoError(t, err)

	for i := 0; i < DeadAfterAttempts+2; i++ {
		_, err := o.Drain(ctx)
		require.NoError(t, err)
	}

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Dead, "429 is retried like a transient failure")
}

func TestDrainEmptyQueueIsNoOp(t *testing.T) {
	q := newTestQueue(t)
	notifier := &fakeNotifier{}
	o, err := New(q, nil, "http://localhost:1", alwaysOnline, notifier, nil, nil)
	require.NoError(t, err)

	result, err := o.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)

	_, called := notifier.lastCall()
	assert.False(t, called, "no notification for an empty drain")
}

func TestDrainBoundsInFlightReplays(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 3*replayConcurrency; i++ {
		_, err := q.Enqueue(ctx, "transaction", queue.ActionCreate, json.RawMessage(`{"amount":"1.00"}`))
		require.NoError(t, err)
	}

	o, err := New(q, nil, server.URL, alwaysOnline, nil, nil, nil)
	require.NoError(t, err)

	result, err := o.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*replayConcurrency, result.Succeeded)

	mu.Lock()
	assert.LessOrEqual(t, peak, replayConcurrency, "backlog replays are rate-limited")
	mu.Unlock()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(http.StatusBadRequest))
	assert.True(t, isPermanent(http.StatusConflict))
	assert.True(t, isPermanent(http.StatusUnprocessableEntity))
	assert.False(t, isPermanent(http.StatusRequestTimeout))
	assert.False(t, isPermanent(http.StatusTooManyRequests))
	assert.False(t, isPermanent(http.StatusInternalServerError))
	assert.False(t, isPermanent(http.StatusBadGateway))
	assert.False(t, isPermanent(http.StatusOK))
}
