// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intercept sits in front of every request the finance app
// issues and applies one of three response strategies.
//
// Per-request decision tree:
//
//   - non-GET or non-http(s) scheme: transparent pass-through, never
//     cached.
//   - navigation (full document load): network-first with offline
//     document fallback. Online users always see the freshest page;
//     offline users are never stranded.
//   - any other GET: cache-first with background revalidation. The UI
//     answers instantly from cache while data quietly refreshes for
//     next time.
//
// A failure anywhere degrades to the best available fallback (cache →
// offline page → synthetic error response); no request is ever left
// unhandled.
package intercept

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/cache"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/observability"
)

// revalidateTimeout bounds background refreshes so an unreachable
// upstream does not pile up goroutines.
const revalidateTimeout = 30 * time.Second

// placeholderGIF is a 1x1 transparent GIF served for image requests
// that cannot be satisfied offline.
var placeholderGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// hopByHopHeaders are stripped when forwarding, per RFC 9110.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Interceptor classifies requests and applies strategies.
//
// # Thread Safety
//
// Safe for concurrent use.
type Interceptor struct {
	tiers    *cache.TierManager
	client   *http.Client
	upstream *url.URL
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates an interceptor in front of the given upstream.
func New(tiers *cache.TierManager, client *http.Client, upstreamURL string, metrics *observability.Metrics, logger *slog.Logger) (*Interceptor, error) {
	base, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		tiers:    tiers,
		client:   client,
		upstream: base,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// ServeHTTP applies the per-request decision tree.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !interceptable(r) {
		i.passThrough(w, r)
		return
	}
	if isNavigation(r) {
		i.networkFirst(w, r)
		return
	}
	i.cacheFirst(w, r)
}

// =============================================================================
// Strategies
// =============================================================================

// networkFirst serves navigations: network, then cache, then the
// offline document.
func (i *Interceptor) networkFirst(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()

	cr, err := i.fetch(r.Context(), r)
	if err == nil && cr.OK() {
		// Store a copy without blocking the response on the write.
		stored := cr.Clone()
		go i.tiers.Put(context.WithoutCancel(r.Context()), cache.TierDynamic, uri, stored)
		i.metrics.RecordStrategyResponse("network_first", "network")
		serve(w, cr)
		return
	}
	if err != nil {
		i.logger.Debug("navigation fetch failed", "url", uri, "error", err)
	}

	if cached, ok := i.match(r.Context(), uri); ok {
		i.metrics.RecordStrategyResponse("network_first", "cache")
		serve(w, cached)
		return
	}

	i.metrics.RecordStrategyResponse("network_first", "offline_fallback")
	i.serveOfflineDocument(w, r)
}

// cacheFirst serves sub-resource GETs: cache immediately when present
// (refreshing in the background unless the path is immutable),
// otherwise network with same-origin success responses captured.
func (i *Interceptor) cacheFirst(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()

	if cached, ok := i.match(r.Context(), uri); ok {
		if !i.tiers.Manifest().IsImmutablePath(r.URL.Path) {
			go i.revalidate(r, uri)
		}
		i.metrics.RecordStrategyResponse("cache_first", "cache")
		serve(w, cached)
		return
	}

	cr, err := i.fetch(r.Context(), r)
	if err != nil {
		i.metrics.RecordStrategyResponse("cache_first", "offline_fallback")
		i.serveSyntheticFallback(w, r)
		return
	}

	// Do not cache errors: only a plain 200 on the app's own origin is
	// worth keeping.
	if cr.Status == http.StatusOK && i.sameOrigin(r) {
		tier := cache.TierDynamic
		if i.tiers.Manifest().IsImmutablePath(r.URL.Path) {
			tier = cache.TierStatic
		}
		i.tiers.Put(r.Context(), tier, uri, cr.Clone())
	}
	i.metrics.RecordStrategyResponse("cache_first", "network")
	serve(w, cr)
}

// passThrough forwards mutating and foreign-scheme requests untouched.
func (i *Interceptor) passThrough(w http.ResponseWriter, r *http.Request) {
	cr, err := i.fetch(r.Context(), r)
	if err != nil {
		i.metrics.RecordStrategyResponse("passthrough", "offline_fallback")
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	i.metrics.RecordStrategyResponse("passthrough", "network")
	serve(w, cr)
}

// revalidate refreshes a cached entry in the background. The outcome
// is never surfaced to the original caller; it only affects what is
// served next time.
func (i *Interceptor) revalidate(r *http.Request, uri string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), revalidateTimeout)
	defer cancel()

	cr, err := i.fetch(ctx, r.Clone(ctx))
	if err != nil || !cr.OK() {
		return
	}
	i.tiers.Put(ctx, cache.TierDynamic, uri, cr)
}

// =============================================================================
// Fallbacks
// =============================================================================

func (i *Interceptor) serveOfflineDocument(w http.ResponseWriter, r *http.Request) {
	if doc, ok := i.tiers.OfflineDocument(r.Context()); ok {
		serve(w, doc)
		return
	}
	// Shell was never populated; the generic offline response is all
	// that's left.
	serveOffline503(w)
}

// serveSyntheticFallback picks a fallback by request destination:
// offline document for documents, placeholder for images, plain 503
// for everything else.
func (i *Interceptor) serveSyntheticFallback(w http.ResponseWriter, r *http.Request) {
	switch destination(r) {
	case "document":
		i.serveOfflineDocument(w, r)
	case "image":
		w.Header().Set("Content-Type", "image/gif")
		w.WriteHeader(http.StatusOK)
		w.Write(placeholderGIF)
	default:
		serveOffline503(w)
	}
}

func serveOffline503(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, "Offline")
}

// =============================================================================
// Transport
// =============================================================================

// fetch forwards a request upstream and captures the full response.
// The body is read once into the captured copy; serving and caching
// both work from that copy.
func (i *Interceptor) fetch(ctx context.Context, r *http.Request) (*cache.CapturedResponse, error) {
	target := i.upstream.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	})
	if r.URL.IsAbs() && !i.sameOrigin(r) {
		target = r.URL
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = r.Header.Clone()
	for _, h := range hopByHopHeaders {
		req.Header.Del(h)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := resp.Header.Clone()
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
	return &cache.CapturedResponse{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

func (i *Interceptor) match(ctx context.Context, uri string) (*cache.CapturedResponse, bool) {
	cr, ok := i.tiers.Match(ctx, uri)
	if ok {
		i.metrics.RecordCacheLookup("hit")
	} else {
		i.metrics.RecordCacheLookup("miss")
	}
	return cr, ok
}

func (i *Interceptor) sameOrigin(r *http.Request) bool {
	return r.URL.Host == "" || r.URL.Host == i.upstream.Host
}

func serve(w http.ResponseWriter, cr *cache.CapturedResponse) {
	for k, vals := range cr.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(cr.Status)
	w.Write(cr.Body)
}

// =============================================================================
// Classification
// =============================================================================

// interceptable reports whether the request is subject to caching
// strategies. Non-GET requests and non-http(s) schemes (extension
// internals and the like) are never intercepted.
func interceptable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	scheme := r.URL.Scheme
	return scheme == "" || scheme == "http" || scheme == "https"
}

// isNavigation reports whether the request loads a full document.
// Browsers mark top-level navigations with Sec-Fetch-Mode; the Accept
// sniff covers clients that don't send fetch metadata.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	if r.Header.Get("Sec-Fetch-Mode") != "" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// destination classifies what the response will be used for.
func destination(r *http.Request) string {
	switch r.Header.Get("Sec-Fetch-Dest") {
	case "document":
		return "document"
	case "image":
		return "image"
	case "":
		// Fall through to Accept sniffing.
	default:
		return "other"
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return "document"
	}
	if strings.HasPrefix(accept, "image/") {
		return "image"
	}
	return "other"
}
