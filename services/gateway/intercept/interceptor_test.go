// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intercept

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/cache"
	storage "github.com/jinterlante1206/LedgerLocal/services/gateway/storage/badger"
)

func newTestSetup(t *testing.T, upstreamURL string) (*Interceptor, *cache.TierManager) {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := &cache.Manifest{
		Version:           "v1",
		OfflinePath:       "/offline.html",
		Shell:             []string{"/", "/offline.html"},
		ImmutablePatterns: []string{"/assets/"},
	}
	tiers, err := cache.NewTierManager(db, nil, upstreamURL, m, nil)
	require.NoError(t, err)

	i, err := New(tiers, nil, upstreamURL, nil, nil)
	require.NoError(t, err)
	return i, tiers
}

func navRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	r.Header.Set("Sec-Fetch-Dest", "document")
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	return r
}

func subresourceRequest(path, dest string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Sec-Fetch-Mode", "no-cors")
	if dest != "" {
		r.Header.Set("Sec-Fetch-Dest", dest)
	}
	return r
}

func TestNavigationNetworkFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>dashboard</html>"))
	}))
	defer server.Close()

	i, tiers := newTestSetup(t, server.URL)

	w := httptest.NewRecorder()
	i.ServeHTTP(w, navRequest("/dashboard"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>dashboard</html>", w.Body.String())

	// The successful navigation is captured for offline use; the write
	// is asynchronous.
	assert.Eventually(t, func() bool {
		_, ok := tiers.Match(context.Background(), "/dashboard")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNavigationFallsBackToCache(t *testing.T) {
	// Upstream that is up for one request, then unreachable.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cached page"))
	}))

	i, tiers := newTestSetup(t, server.URL)
	ctx := context.Background()

	tiers.Put(ctx, cache.TierDynamic, "/reports", &cache.CapturedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("cached page"),
	})
	server.Close()

	w := httptest.NewRecorder()
	i.ServeHTTP(w, navRequest("/reports"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cached page", w.Body.String())
}

func TestNavigationOfflineDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	i, tiers := newTestSetup(t, server.URL)
	ctx := context.Background()

	offline := &cache.CapturedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("<html>you are offline</html>"),
	}
	tiers.Put(ctx, cache.TierShell, "/offline.html", offline)
	server.Close()

	w := httptest.NewRecorder()
	i.ServeHTTP(w, navRequest("/never-visited"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(offline.Body), w.Body.String(),
		"uncached navigation while offline serves the offline document")
}

func TestNavigationOfflineWithEmptyShell(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	i, _ := newTestSetup(t, server.URL)
	server.Close()

	w := httptest.NewRecorder()
	i.ServeHTTP(w, navRequest("/anything"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCacheFirstServesFromCacheWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("fresh"))
	}))
	defer server.Close()

	i, tiers := newTestSetup(t, server.URL)
	ctx := context.Background()

	// Immutable path: no background revalidation either.
	tiers.Put(ctx, cache.TierStatic, "/assets/app.js", &cache.CapturedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/javascript"}},
		Body:   []byte("cached js"),
	})

	w := httptest.NewRecorder()
	i.ServeHTTP(w, subresourceRequest("/assets/app.js", "script"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cached js", w.Body.String())
	assert.Equal(t, int32(0), hits.Load(), "immutable cache hit never touches the network")
}

func TestCacheFirstRevalidatesMutablePaths(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("fresh data"))
	}))
	defer server.Close()

	i, tiers := newTestSetup(t, server.URL)
	ctx := context.Background()

	tiers.Put(ctx, cache.TierDynamic, "/api/transactions", &cache.CapturedResponse{
		Status: http.StatusOK,
		Body:   []byte("stale data"),
	})

	w := httptest.NewRecorder()
	i.ServeHTTP(w, subresourceRequest("/api/transactions", ""))

	// The caller gets the cached copy immediately.
	assert.Equal(t, "stale data", w.Body.String())

	// The background refresh replaces it for next time.
	assert.Eventually(t, func() bool {
		cr, ok := tiers.Match(context.Background(), "/api/transactions")
		return ok && string(cr.Body) == "fresh data"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCacheFirstMissFetchesAndCaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from network"))
	}))
	defer server.Close()

	i, tiers := newTestSetup(t, server.URL)

	w := httptest.NewRecorder()
	i.ServeHTTP(w, subresourceRequest("/api/budgets", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from network", w.Body.String())

	cr, ok := tiers.Match(context.Background(), "/api/budgets")
	require.True(t, ok)
	assert.Equal(t, "from network", string(cr.Body))
}

func TestErrorResponsesAreNeverCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream broke"))
	}))
	defer server.Close()

	i, tiers := newTestSetup(t, server.URL)

	w := httptest.NewRecorder()
	i.ServeHTTP(w, subresourceRequest("/api/loans", ""))

	// The error is passed through to the caller untouched.
	assert.Equal(t, http.StatusBadGateway, w.Code)

	_, ok := tiers.Match(context.Background(), "/api/loans")
	assert.False(t, ok, "a 502 must not shadow future fetches")
}

func TestImageFallbackPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	i, _ := newTestSetup(t, server.URL)
	server.Close()

	w := httptest.NewRecorder()
	i.ServeHTTP(w, subresourceRequest("/charts/spending.png", "image"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, placeholderGIF, w.Body.Bytes())
}

func TestOtherFallback503(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	i, _ := newTestSetup(t, server.URL)
	server.Close()

	w := httptest.NewRecorder()
	i.ServeHTTP(w, subresourceRequest("/api/accounts", "empty"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Offline", w.Body.String())
}

func TestPassThroughPost(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	i, tiers := newTestSetup(t, server.URL)

	w := httptest.NewRecorder()
	i.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/transactions", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, http.MethodPost, method)

	_, ok := tiers.Match(context.Background(), "/transactions")
	assert.False(t, ok, "mutations are never cached")
}

func TestPassThroughOffline502(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	i, _ := newTestSetup(t, server.URL)
	server.Close()

	w := httptest.NewRecorder()
	i.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/transactions", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestClassification(t *testing.T) {
	assert.True(t, isNavigation(navRequest("/")))
	assert.False(t, isNavigation(subresourceRequest("/api/x", "")))

	// Accept sniff covers clients without fetch metadata.
	r := httptest.NewRequest(http.MethodGet, "/page", nil)
	r.Header.Set("Accept", "text/html")
	assert.True(t, isNavigation(r))

	r = httptest.NewRequest(http.MethodGet, "/api/x", nil)
	r.Header.Set("Accept", "application/json")
	assert.False(t, isNavigation(r))

	assert.True(t, interceptable(httptest.NewRequest(http.MethodGet, "/x", nil)))
	assert.False(t, interceptable(httptest.NewRequest(http.MethodDelete, "/x", nil)))
}
