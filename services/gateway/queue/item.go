// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements the durable FIFO of pending write
// operations.
//
// The queue is the single source of truth for "work not yet
// acknowledged by the server". It survives a full restart of the
// daemon: every mutation is persisted (with synchronous writes) before
// Enqueue returns, and items are removed only when a replay receives
// an HTTP-ok response.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the mutation kind of a queued item.
type Action string

const (
	// ActionCreate maps to POST /{resourceType}s.
	ActionCreate Action = "create"

	// ActionUpdate maps to PUT /{resourceType}s/{id}.
	ActionUpdate Action = "update"

	// ActionDelete maps to DELETE /{resourceType}s/{id}. No body.
	ActionDelete Action = "delete"
)

// Resources is the fixed set of finance entities the backend accepts.
var Resources = []string{"transaction", "budget", "account", "loan", "category"}

// Item is one pending mutation awaiting server acknowledgment.
type Item struct {
	// ID is unique, assigned at enqueue time: the enqueue unix-nano
	// plus a random component, so two items added in the same tick
	// never collide.
	ID string `json:"id"`

	// ResourceType is one of Resources.
	ResourceType string `json:"resource_type"`

	// Action is create, update, or delete.
	Action Action `json:"action"`

	// Payload is the JSON record to send. For create it holds the new
	// entity's fields; for update/delete it carries at least the
	// server-assigned "id".
	Payload json.RawMessage `json:"payload,omitempty"`

	// EnqueuedAt is diagnostic ordering metadata, not a TTL.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts replay attempts that have failed.
	Attempts int `json:"attempts,omitempty"`

	// Dead marks an item parked after repeated permanent rejections.
	// Dead items are skipped by the drain but never dropped; only an
	// explicit Remove clears them.
	Dead bool `json:"dead,omitempty"`

	// seq is the FIFO position inside the persisted key, not part of
	// the wire representation.
	seq uint64
}

// Seq returns the item's FIFO sequence number.
func (i Item) Seq() uint64 {
	return i.seq
}

// EntityID extracts the server-assigned id from the payload. Required
// for update and delete.
func (i Item) EntityID() (string, error) {
	if len(i.Payload) == 0 {
		return "", fmt.Errorf("item %s: empty payload", i.ID)
	}
	var probe struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(i.Payload, &probe); err != nil {
		return "", fmt.Errorf("item %s: decode payload: %w", i.ID, err)
	}
	if probe.ID.String() == "" {
		return "", fmt.Errorf("item %s: payload has no id", i.ID)
	}
	return probe.ID.String(), nil
}

// newID builds a time-ordered unique id. The timestamp keeps ids
// roughly sortable for diagnostics; the uuid fragment breaks same-tick
// ties.
func newID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])
}
