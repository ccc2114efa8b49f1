// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the gateway's admin
// surface under /sync/v1.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatusProvider aggregates the gateway state surfaced to views: the
// offline banner, the pending count badge, and the update prompt all
// read from this.
type StatusProvider interface {
	Online() bool
	QueueDepth(c *gin.Context) (int, error)
	UpdateAvailable() (bool, string)
	ActiveVersion() string
	ConnectedViews() int
}

// Status returns the aggregate gateway status.
func Status(p StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		depth, err := p.QueueDepth(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		available, waiting := p.UpdateAvailable()
		c.JSON(http.StatusOK, gin.H{
			"online":           p.Online(),
			"queue_depth":      depth,
			"active_version":   p.ActiveVersion(),
			"update_available": available,
			"waiting_version":  waiting,
			"connected_views":  p.ConnectedViews(),
		})
	}
}
