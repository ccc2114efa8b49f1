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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/queue"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/views"
)

// enqueueBody is the wire shape of POST /sync/v1/queue. Views call it
// when a mutating action is attempted while offline or the direct
// network attempt failed.
type enqueueBody struct {
	ResourceType string          `json:"resource_type" binding:"required"`
	Action       queue.Action    `json:"action" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
}

// EnqueueMutation appends a pending mutation to the durable queue.
func EnqueueMutation(store *queue.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body enqueueBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		item, err := store.Enqueue(c, body.ResourceType, body.Action, body.Payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

// ListQueue returns the pending mutations in FIFO order.
//
// When the persisted store is unreadable, a connected view's in-memory
// snapshot is used as a fallback data source; if no view answers in
// time, the error is surfaced as-is.
func ListQueue(store *queue.Store, hub *views.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := store.List(c)
		if err == nil {
			if items == nil {
				items = []queue.Item{}
			}
			c.JSON(http.StatusOK, gin.H{"items": items, "source": "store"})
			return
		}

		slog.Warn("queue store unreadable, asking views for snapshot", "error", err)
		snapshot, snapErr := hub.RequestQueueSnapshot(c)
		if snapErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": snapshot, "source": "view"})
	}
}

// RemoveQueueItem deletes one pending mutation by id. This is the only
// way a failed item ever leaves the queue.
func RemoveQueueItem(store *queue.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := store.Remove(c, id); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ClearQueue removes all pending mutations and their persisted state.
func ClearQueue(store *queue.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Clear(c); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
