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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"

	storage "github.com/jinterlante1206/LedgerLocal/services/gateway/storage/badger"
)

// keyPrefix namespaces all cache entries inside the shared database.
const keyPrefix = "tier/"

// precacheConcurrency bounds the install-time fan-out.
const precacheConcurrency = 8

// TierManager owns the mapping from logical tier to physical store and
// the population rules for each tier.
//
// # Description
//
// Entries live in BadgerDB under "tier/<tierName>/<requestURI>", where
// tierName embeds the manifest version token. Match checks the three
// current tiers; PurgeStaleTiers removes every other generation.
//
// All cache writes are best-effort: a failed Put is logged and
// swallowed, never surfaced to the request being served.
//
// # Thread Safety
//
// Safe for concurrent use. The manifest pointer is guarded for the
// update path; BadgerDB handles storage concurrency.
type TierManager struct {
	db       *storage.DB
	client   *http.Client
	upstream *url.URL
	logger   *slog.Logger

	manifest atomicManifest
}

// NewTierManager creates a tier manager over the given database.
//
// # Inputs
//
//   - db: The shared gateway database.
//   - client: HTTP client used for pre-cache fetches. If nil,
//     http.DefaultClient is used.
//   - upstreamURL: Base URL of the finance backend; manifest paths are
//     resolved against it.
//   - m: The current cache manifest.
//   - logger: Structured logger. If nil, slog.Default() is used.
//
// # Outputs
//
//   - *TierManager: Ready for use.
//   - error: Non-nil if upstreamURL does not parse.
func NewTierManager(db *storage.DB, client *http.Client, upstreamURL string, m *Manifest, logger *slog.Logger) (*TierManager, error) {
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
	t := &TierManager{
		db:       db,
		client:   client,
		upstream: base,
		logger:   logger,
	}
	t.manifest.store(m)
	return t, nil
}

// Manifest returns the currently active manifest.
func (t *TierManager) Manifest() *Manifest {
	return t.manifest.load()
}

// SetManifest swaps in a new manifest. Existing entries of the old
// generation stay until PurgeStaleTiers runs.
func (t *TierManager) SetManifest(m *Manifest) {
	t.manifest.store(m)
}

// EnsureShellPopulated idempotently fetches and stores every shell URL.
//
// # Description
//
// A failure fetching one shell URL is logged and does not prevent the
// others from being cached. Runs during install and on activation of a
// new generation; must complete before the install phase is considered
// finished.
//
// # Outputs
//
//   - error: Only the context error; individual fetch failures are
//     logged, not returned.
func (t *TierManager) EnsureShellPopulated(ctx context.Context) error {
	m := t.Manifest()
	for _, p := range m.Shell {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.fetchAndStore(ctx, TierShell, p); err != nil {
			t.logger.Error("shell pre-cache failed", "url", p, "error", err)
		}
	}
	return nil
}

// EnsureStaticPopulated attempts to fetch every static asset URL.
//
// # Description
//
// All-settled semantics: every attempt runs to completion
// independently, failures are logged with a warning and never fail the
// overall operation. A broken asset must not abort installation of the
// rest.
func (t *TierManager) EnsureStaticPopulated(ctx context.Context) error {
	m := t.Manifest()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for _, p := range m.Static {
		p := p
		g.Go(func() error {
			if err := t.fetchAndStore(gctx, TierStatic, p); err != nil {
				t.logger.Warn("static pre-cache skipped", "url", p, "error", err)
			}
			// Never propagate: one failed asset must not cancel siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Put stores a captured response under the given tier, keyed by the
// request URI.
//
// Best-effort: failures are logged and swallowed. The response being
// served must never fail because a cache write did.
func (t *TierManager) Put(ctx context.Context, tier Tier, requestURI string, cr *CapturedResponse) {
	if err := t.put(ctx, t.Manifest().TierName(tier), requestURI, cr); err != nil {
		t.logger.Error("cache write failed", "tier", string(tier), "url", requestURI, "error", err)
	}
}

func (t *TierManager) put(ctx context.Context, tierName, requestURI string, cr *CapturedResponse) error {
	if cr.StoredAt.IsZero() {
		cr = cr.Clone()
		cr.StoredAt = time.Now()
	}
	value, err := json.Marshal(cr)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return t.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(entryKey(tierName, requestURI), value)
	})
}

// Match looks up a request URI across the three current tiers.
//
// # Outputs
//
//   - *CapturedResponse: The stored response, or nil.
//   - bool: True when an entry was found. First match wins; no tier
//     priority beyond shell → static → dynamic probe order.
func (t *TierManager) Match(ctx context.Context, requestURI string) (*CapturedResponse, bool) {
	m := t.Manifest()
	for _, tier := range []Tier{TierShell, TierStatic, TierDynamic} {
		cr, err := t.get(ctx, m.TierName(tier), requestURI)
		if err == nil {
			return cr, true
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			t.logger.Error("cache read failed", "tier", string(tier), "url", requestURI, "error", err)
		}
	}
	return nil, false
}

// OfflineDocument returns the reserved offline fallback document from
// the shell tier.
func (t *TierManager) OfflineDocument(ctx context.Context) (*CapturedResponse, bool) {
	m := t.Manifest()
	cr, err := t.get(ctx, m.TierName(TierShell), m.OfflinePath)
	if err != nil {
		return nil, false
	}
	return cr, true
}

func (t *TierManager) get(ctx context.Context, tierName, requestURI string) (*CapturedResponse, error) {
	var cr CapturedResponse
	err := t.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(tierName, requestURI))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cr)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

// PurgeStaleTiers deletes every stored tier generation whose name is
// not one of the three current tier names.
//
// # Description
//
// Runs once per activation of a new manifest version. Guarantees at
// most one generation of each tier exists afterwards.
//
// # Outputs
//
//   - int: Number of entries deleted.
//   - error: Non-nil on storage failure.
func (t *TierManager) PurgeStaleTiers(ctx context.Context) (int, error) {
	current := t.Manifest().CurrentTierNames()

	var stale [][]byte
	err := t.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !current[tierNameOf(key)] {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enumerate tiers: %w", err)
	}

	deleted := 0
	for _, key := range stale {
		err := t.db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return deleted, fmt.Errorf("delete stale entry: %w", err)
		}
		deleted++
	}
	if deleted > 0 {
		t.logger.Info("purged stale cache tiers", "entries", deleted)
	}
	return deleted, nil
}

// EntryCount returns the number of entries in the current generation of
// a tier.
func (t *TierManager) EntryCount(ctx context.Context, tier Tier) (int, error) {
	prefix := []byte(keyPrefix + t.Manifest().TierName(tier) + "/")
	count := 0
	err := t.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// TierNames enumerates the distinct physical tier names currently in
// the store, including stale generations. Used by tests and status.
func (t *TierManager) TierNames(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	err := t.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			name := tierNameOf(it.Item().Key())
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

// fetchAndStore GETs a manifest path from the upstream and stores the
// response when it is HTTP-ok.
func (t *TierManager) fetchAndStore(ctx context.Context, tier Tier, p string) error {
	ref, err := url.Parse(p)
	if err != nil {
		return fmt.Errorf("parse manifest url %s: %w", p, err)
	}
	target := t.upstream.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build pre-cache request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", p, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}

	cr := &CapturedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	if !cr.OK() {
		return fmt.Errorf("fetch %s: status %d", p, resp.StatusCode)
	}

	return t.put(ctx, t.Manifest().TierName(tier), ref.RequestURI(), cr)
}

// entryKey builds the storage key for one entry.
func entryKey(tierName, requestURI string) []byte {
	return []byte(keyPrefix + tierName + "/" + requestURI)
}

// tierNameOf extracts the physical tier name from a storage key.
// Returns "" for keys outside the cache prefix.
func tierNameOf(key []byte) string {
	s := string(key)
	if !strings.HasPrefix(s, keyPrefix) {
		return ""
	}
	rest := s[len(keyPrefix):]
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return ""
	}
	return rest[:idx]
}

// =============================================================================
// Manifest holder
// =============================================================================

// atomicManifest guards the active manifest pointer. Swapped only on
// update activation; read on every request.
type atomicManifest struct {
	mu sync.RWMutex
	m  *Manifest
}

func (a *atomicManifest) load() *Manifest {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.m
}

func (a *atomicManifest) store(m *Manifest) {
	a.mu.Lock()
	a.m = m
	a.mu.Unlock()
}
