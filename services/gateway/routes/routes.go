// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/handlers"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/intercept"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/notify"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/queue"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/replay"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/update"
	"github.com/jinterlante1206/LedgerLocal/services/gateway/views"
)

// Deps carries everything the routes need.
type Deps struct {
	Queue        *queue.Store
	Orchestrator *replay.Orchestrator
	Checker      *update.Checker
	Notify       *notify.Service
	Hub          *views.Hub
	Interceptor  *intercept.Interceptor
	Status       handlers.StatusProvider
}

// SetupRoutes registers the admin surface under /sync/v1 and mounts
// the interceptor as the catch-all for everything else, so every app
// request flows through the strategy engine regardless of online
// state.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/sync/v1")
	{
		v1.GET("/health", handlers.HealthCheck)
		v1.GET("/status", handlers.Status(d.Status))
		v1.GET("/ws", handlers.HandleViewSocket(d.Hub))

		v1.POST("/queue", handlers.EnqueueMutation(d.Queue))
		v1.GET("/queue", handlers.ListQueue(d.Queue, d.Hub))
		v1.DELETE("/queue/:id", handlers.RemoveQueueItem(d.Queue))
		v1.DELETE("/queue", handlers.ClearQueue(d.Queue))

		v1.POST("/sync", handlers.TriggerSync(d.Orchestrator))

		v1.POST("/update/check", handlers.CheckUpdate(d.Checker))
		v1.POST("/update/apply", handlers.ApplyUpdate(d.Checker))

		v1.POST("/notify", handlers.DispatchNotification(d.Notify))
	}

	router.NoRoute(gin.WrapH(d.Interceptor))
}
