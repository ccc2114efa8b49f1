// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/notify"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/replay"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/update"
)

// TriggerSync runs an explicit drain of the mutation queue.
//
// A drain that was skipped (offline, or one already in flight) still
// answers 200; the result counts make the no-op visible.
func TriggerSync(orchestrator *replay.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := orchestrator.Drain(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"attempted":    result.Attempted,
			"succeeded":    result.Succeeded,
			"failed":       result.Failed,
			"skipped_dead": result.SkippedDead,
		})
	}
}

// ApplyUpdate activates the waiting version: purge stale tiers,
// repopulate, and tell every open view to reload.
func ApplyUpdate(checker *update.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checker.Apply(c); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// CheckUpdate forces an immediate upstream version check.
func CheckUpdate(checker *update.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checker.CheckNow(c); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		available, version := checker.UpdateAvailable()
		c.JSON(http.StatusOK, gin.H{
			"update_available": available,
			"waiting_version":  version,
		})
	}
}

// DispatchNotification displays a system notification through the
// connected views.
func DispatchNotification(service *notify.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var n notify.Notification
		if err := c.ShouldBindJSON(&n); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		service.Dispatch(n)
		c.Status(http.StatusAccepted)
	}
}
