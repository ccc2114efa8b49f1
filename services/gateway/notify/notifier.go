// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify dispatches system notifications for budget, loan and
// transaction reminders.
//
// The gateway does not own the presentation of notifications; it only
// needs the capability to display one given title/body/tag. Dispatch
// is routed through the views hub because the gateway outlives any
// single open view.
package notify

import (
	"log/slog"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/views"
)

// Notification is one system notification request.
type Notification struct {
	// Title is the headline.
	Title string `json:"title" binding:"required"`

	// Body is the detail text.
	Body string `json:"body"`

	// Tag deduplicates: a later notification with the same tag
	// replaces the earlier one instead of stacking.
	Tag string `json:"tag"`

	// RequireInteraction keeps the notification visible until the user
	// dismisses it. Used for over-budget and payment-due alerts.
	RequireInteraction bool `json:"require_interaction"`
}

// Dispatcher displays a notification. The views hub satisfies this.
type Dispatcher interface {
	Broadcast(evt views.Event)
}

// Service fans notifications out to the display capability.
type Service struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewService creates a notification service.
func NewService(dispatcher Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dispatcher: dispatcher, logger: logger}
}

// Dispatch displays one notification.
func (s *Service) Dispatch(n Notification) {
	s.logger.Info("notification dispatched", "tag", n.Tag, "title", n.Title)
	s.dispatcher.Broadcast(views.Event{
		Type: views.EventNotification,
		Data: map[string]any{
			"title":               n.Title,
			"body":                n.Body,
			"tag":                 n.Tag,
			"require_interaction": n.RequireInteraction,
		},
	})
}
