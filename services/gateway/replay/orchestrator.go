// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replay drains the mutation queue against the live backend.
//
// Delivery is at-least-once with no deduplication: an item is removed
// from the queue the instant the server answers HTTP-ok, and is left
// in place on any failure to be retried on the next drain. Items are
// replayed independently and concurrently; completion order across
// items is not guaranteed, but the persisted queue after a drain holds
// exactly the failed subset in its original relative order.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/observability"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/queue"
)

// DeadAfterAttempts is how many permanent rejections park an item.
// Transient failures are retried without a cap.
const DeadAfterAttempts = 5

// replayConcurrency bounds in-flight replays per drain; a reconnect
// after a long offline stretch must not hammer the backend with the
// whole backlog at once.
const replayConcurrency = 8

// Queue is the slice of the mutation queue the orchestrator needs.
type Queue interface {
	List(ctx context.Context) ([]queue.Item, error)
	Remove(ctx context.Context, id string) error
	MarkFailure(ctx context.Context, id string, permanent bool, deadAfter int) error
	Len(ctx context.Context) (int, error)
}

// Notifier is told when a drain pass finishes so open views can
// refresh their data.
type Notifier interface {
	SyncCompleted(replayed, remaining int)
}

// Result summarizes one drain pass.
type Result struct {
	// Attempted is the number of live items replayed.
	Attempted int

	// Succeeded is the number acknowledged and removed.
	Succeeded int

	// Failed is the number left queued for the next drain.
	Failed int

	// SkippedDead is the number of parked items not attempted.
	SkippedDead int
}

// Orchestrator replays queued mutations when conditions allow.
//
// # Thread Safety
//
// Safe for concurrent use. At most one drain runs at a time; extra
// Drain calls while one is in flight return immediately.
type Orchestrator struct {
	q        Queue
	client   *http.Client
	base     *url.URL
	online   func() bool
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	draining atomic.Bool
}

// New creates an orchestrator.
//
// # Inputs
//
//   - q: The mutation queue.
//   - client: HTTP client for replays. If nil, http.DefaultClient.
//   - baseURL: Backend base URL; endpoints are {base}/{type}s[/{id}].
//   - online: Connectivity predicate; a drain while offline is a no-op.
//   - notifier: May be nil.
//   - metrics: May be nil.
//   - logger: If nil, slog.Default().
func New(q Queue, client *http.Client, baseURL string, online func() bool, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) (*Orchestrator, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if online == nil {
		online = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		q:        q,
		client:   client,
		base:     base,
		online:   online,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Drain replays every live queued item once.
//
// # Description
//
// No-op when the queue is empty, when connectivity is down, or when a
// drain is already in progress. Live items are replayed concurrently;
// each outcome is tracked independently. Success removes the item,
// failure marks the attempt and leaves it queued untouched. One item's
// failure never blocks or fails its siblings.
//
// # Outputs
//
//   - Result: Per-pass counts. Zero-valued when the drain was a no-op.
//   - error: Non-nil only on queue storage failure, never on replay
//     failure.
func (o *Orchestrator) Drain(ctx context.Context) (Result, error) {
	if !o.online() {
		o.logger.Debug("drain skipped: offline")
		return Result{}, nil
	}
	if !o.draining.CompareAndSwap(false, true) {
		o.logger.Debug("drain skipped: already in progress")
		return Result{}, nil
	}
	defer o.draining.Store(false)

	start := time.Now()

	items, err := o.q.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list queue: %w", err)
	}
	if len(items) == 0 {
		return Result{}, nil
	}

	result := Result{}
	type outcome struct {
		id        string
		ok        bool
		permanent bool
	}

	outcomes := make(chan outcome, len(items))
	g := new(errgroup.Group)
	g.SetLimit(replayConcurrency)
	for _, item := range items {
		if item.Dead {
			result.SkippedDead++
			continue
		}
		result.Attempted++
		item := item
		g.Go(func() error {
			// Always nil: one item's failure never cancels its
			// siblings.
			ok, permanent := o.replay(ctx, item)
			outcomes <- outcome{id: item.ID, ok: ok, permanent: permanent}
			return nil
		})
	}
	g.Wait()
	close(outcomes)

	for out := range outcomes {
		if out.ok {
			// Removal is the acknowledgment: only a non-error HTTP
			// response gets an item out of the queue.
			if err := o.q.Remove(ctx, out.id); err != nil {
				o.logger.Error("acknowledged item could not be removed", "id", out.id, "error", err)
				continue
			}
			result.Succeeded++
			o.metrics.RecordReplay("success")
		} else {
			if err := o.q.MarkFailure(ctx, out.id, out.permanent, DeadAfterAttempts); err != nil {
				o.logger.Error("failed item could not be marked", "id", out.id, "error", err)
			}
			result.Failed++
			if out.permanent {
				o.metrics.RecordReplay("permanent")
			} else {
				o.metrics.RecordReplay("retryable")
			}
		}
	}

	remaining, err := o.q.Len(ctx)
	if err != nil {
		remaining = result.Failed + result.SkippedDead
	}
	o.metrics.SetQueueDepth(remaining)
	o.metrics.RecordDrainDuration(time.Since(start).Seconds())

	o.logger.Info("drain completed",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped_dead", result.SkippedDead,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if o.notifier != nil {
		o.notifier.SyncCompleted(result.Succeeded, remaining)
	}
	return result, nil
}

// replay sends one item to the backend. Returns (ok, permanent).
func (o *Orchestrator) replay(ctx context.Context, item queue.Item) (bool, bool) {
	req, err := o.buildRequest(ctx, item)
	if err != nil {
		// Malformed item: a rebuild will never succeed, treat as a
		// permanent rejection.
		o.logger.Error("replay request build failed", "id", item.ID, "error", err)
		return false, true
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.logger.Warn("replay failed", "id", item.ID, "error", err)
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		o.logger.Info("mutation replayed",
			"id", item.ID,
			"resource_type", item.ResourceType,
			"action", string(item.Action),
			"status", resp.StatusCode,
		)
		return true, false
	}

	permanent := isPermanent(resp.StatusCode)
	o.logger.Warn("replay rejected",
		"id", item.ID,
		"status", resp.StatusCode,
		"permanent", permanent,
	)
	return false, permanent
}

// buildRequest maps a queue item to its backend endpoint: create →
// POST /{type}s, update → PUT /{type}s/{id}, delete → DELETE
// /{type}s/{id} with no body.
func (o *Orchestrator) buildRequest(ctx context.Context, item queue.Item) (*http.Request, error) {
	collection := "/" + item.ResourceType + "s"

	var method, path string
	var body *bytes.Reader
	switch item.Action {
	case queue.ActionCreate:
		method = http.MethodPost
		path = collection
		body = bytes.NewReader(item.Payload)
	case queue.ActionUpdate:
		id, err := item.EntityID()
		if err != nil {
			return nil, err
		}
		method = http.MethodPut
		path = collection + "/" + id
		body = bytes.NewReader(item.Payload)
	case queue.ActionDelete:
		id, err := item.EntityID()
		if err != nil {
			return nil, err
		}
		method = http.MethodDelete
		path = collection + "/" + id
		body = bytes.NewReader(nil)
	default:
		return nil, fmt.Errorf("item %s: unknown action %q", item.ID, item.Action)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("item %s: build path: %w", item.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("item %s: build request: %w", item.ID, err)
	}
	if item.Action != queue.ActionDelete {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// isPermanent classifies a rejection. 408 and 429 are time-shaped and
// retried like transient failures; every other 4xx will fail the same
// way on every retry.
func isPermanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	return status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}
