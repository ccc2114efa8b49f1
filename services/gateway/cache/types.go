// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the gateway's tiered response cache.
//
// Responses are partitioned into three named tiers with distinct
// population and eviction policies:
//
//   - shell: the minimal document set the app needs to boot offline.
//     Populated at install time, never swept, replaced wholesale on a
//     version bump.
//   - static: versioned build assets and icons. Populated best-effort
//     at install time and opportunistically on first successful fetch.
//   - dynamic: same-origin API and page responses captured during
//     normal browsing. Swept by an age/count policy.
//
// Tier names embed the manifest version token ("shell-v7"), so bumping
// the token is the sole invalidation mechanism: on activation every
// stored generation whose name is not one of the three current names
// is deleted.
package cache

import (
	"net/http"
	"time"
)

// Tier is a logical cache partition.
type Tier string

const (
	// TierShell holds the offline-bootable document set.
	TierShell Tier = "shell"

	// TierStatic holds versioned build assets.
	TierStatic Tier = "static"

	// TierDynamic holds responses captured during browsing.
	TierDynamic Tier = "dynamic"
)

// CapturedResponse is a stored copy of an upstream HTTP response.
//
// The body is captured fully at store time. Serving always works from
// this copy, so the single-read upstream body stream is never consumed
// twice.
type CapturedResponse struct {
	// Status is the HTTP status code of the captured response.
	Status int `json:"status"`

	// Header holds the captured response headers.
	Header http.Header `json:"header"`

	// Body is the full response body. JSON-encodes as base64.
	Body []byte `json:"body"`

	// StoredAt is when the entry was written. Drives the dynamic-tier
	// age sweep and is diagnostic elsewhere.
	StoredAt time.Time `json:"stored_at"`
}

// OK reports whether the captured status is in the 2xx range.
func (c *CapturedResponse) OK() bool {
	return c.Status >= 200 && c.Status < 300
}

// Clone returns an independent copy. Callers that hand the response to
// both a client and the store must not share the body slice.
func (c *CapturedResponse) Clone() *CapturedResponse {
	body := make([]byte, len(c.Body))
	copy(body, c.Body)
	return &CapturedResponse{
		Status:   c.Status,
		Header:   c.Header.Clone(),
		Body:     body,
		StoredAt: c.StoredAt,
	}
}
