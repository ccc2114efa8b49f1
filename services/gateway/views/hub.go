// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package views bridges the gateway to open application views over
// websockets.
//
// The gateway and each browser view are independent single-threaded
// contexts that share nothing in memory; everything crosses this hub
// as asynchronous messages. The hub pushes typed events (connectivity
// transitions, sync completion, update availability, reload commands,
// notifications) and can ask a live view for its in-memory queue
// snapshot as a fallback data source.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/observability"
)

// Event types pushed to views.
const (
	EventOnline               = "online"
	EventOffline              = "offline"
	EventSyncComplete         = "sync-complete"
	EventUpdateAvailable      = "update-available"
	EventReload               = "reload"
	EventNotification         = "notification"
	EventQueueSnapshotRequest = "queue-snapshot-request"
)

// Event is one message pushed to connected views.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// inboundMessage is what a view may send back. Currently only queue
// snapshot replies.
type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Items     json.RawMessage `json:"items,omitempty"`
}

// ErrNoViews is returned when a snapshot is requested with no view
// connected.
var ErrNoViews = errors.New("views: no views connected")

// ErrSnapshotTimeout is returned when no view answered a snapshot
// request within the declared timeout. Callers treat it as "no queue
// data available".
var ErrSnapshotTimeout = errors.New("views: queue snapshot timed out")

// defaultSnapshotTimeout bounds the wait for a view reply.
const defaultSnapshotTimeout = 2 * time.Second

// sendBuffer is the per-view outbound queue. A view that stops reading
// gets disconnected rather than blocking broadcasts to its siblings.
const sendBuffer = 16

// Hub tracks connected views and fans out events.
//
// # Thread Safety
//
// Safe for concurrent use. Each view has a dedicated writer goroutine;
// broadcasts never write to a socket directly.
type Hub struct {
	logger          *slog.Logger
	metrics         *observability.Metrics
	snapshotTimeout time.Duration

	mu      sync.Mutex
	conns   map[string]*viewConn
	pending map[string]chan json.RawMessage
}

type viewConn struct {
	id   string
	ws   *websocket.Conn
	send chan Event
}

// NewHub creates a hub.
//
// # Inputs
//
//   - snapshotTimeout: Wait bound for queue snapshot replies. Zero
//     means 2 seconds.
//   - metrics: May be nil.
//   - logger: If nil, slog.Default() is used.
func NewHub(snapshotTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if snapshotTimeout <= 0 {
		snapshotTimeout = defaultSnapshotTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:          logger,
		metrics:         metrics,
		snapshotTimeout: snapshotTimeout,
		conns:           make(map[string]*viewConn),
		pending:         make(map[string]chan json.RawMessage),
	}
}

// Serve runs the read loop for one upgraded websocket connection and
// blocks until the view disconnects.
func (h *Hub) Serve(ws *websocket.Conn) {
	conn := &viewConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan Event, sendBuffer),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
	h.metrics.ViewConnected()
	h.logger.Info("view connected", "view_id", conn.id)

	go h.writeLoop(conn)

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		h.handleInbound(msg)
	}

	h.mu.Lock()
	delete(h.conns, conn.id)
	h.mu.Unlock()
	close(conn.send)
	h.metrics.ViewDisconnected()
	h.logger.Info("view disconnected", "view_id", conn.id)
}

func (h *Hub) writeLoop(conn *viewConn) {
	for evt := range conn.send {
		if err := conn.ws.WriteJSON(evt); err != nil {
			h.logger.Warn("view write failed", "view_id", conn.id, "error", err)
			conn.ws.Close()
			return
		}
	}
}

func (h *Hub) handleInbound(msg inboundMessage) {
	if msg.Type != "queue-snapshot" || msg.RequestID == "" {
		return
	}
	h.mu.Lock()
	ch, ok := h.pending[msg.RequestID]
	if ok {
		delete(h.pending, msg.RequestID)
	}
	h.mu.Unlock()
	if ok {
		// First responder wins; the channel is buffered so this never
		// blocks the read loop.
		ch <- msg.Items
	}
}

// Broadcast sends an event to every connected view. Views whose send
// buffer is full are skipped; a stalled view must not hold up the
// rest.
func (h *Hub) Broadcast(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.conns {
		select {
		case conn.send <- evt:
		default:
			h.logger.Warn("view send buffer full, dropping event",
				"view_id", conn.id,
				"event", evt.Type,
			)
		}
	}
}

// Count returns the number of connected views.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// RequestQueueSnapshot asks connected views for their in-memory queue
// and returns the first reply.
//
// # Description
//
// Fallback data source for diagnostics when the persisted store is
// unavailable. Explicit request/response with a declared timeout: if
// no view responds in time the caller gets ErrSnapshotTimeout and must
// treat it as "no queue data available".
func (h *Hub) RequestQueueSnapshot(ctx context.Context) (json.RawMessage, error) {
	if h.Count() == 0 {
		return nil, ErrNoViews
	}

	requestID := uuid.NewString()
	reply := make(chan json.RawMessage, 1)

	h.mu.Lock()
	h.pending[requestID] = reply
	h.mu.Unlock()

	h.Broadcast(Event{
		Type: EventQueueSnapshotRequest,
		Data: map[string]any{"request_id": requestID},
	})

	timer := time.NewTimer(h.snapshotTimeout)
	defer timer.Stop()

	select {
	case items := <-reply:
		return items, nil
	case <-ctx.Done():
		h.dropPending(requestID)
		return nil, ctx.Err()
	case <-timer.C:
		h.dropPending(requestID)
		return nil, ErrSnapshotTimeout
	}
}

func (h *Hub) dropPending(requestID string) {
	h.mu.Lock()
	delete(h.pending, requestID)
	h.mu.Unlock()
}

// =============================================================================
// Typed broadcast helpers
// =============================================================================

// OnlineChanged announces a connectivity transition.
func (h *Hub) OnlineChanged(online bool) {
	if online {
		h.Broadcast(Event{Type: EventOnline})
	} else {
		h.Broadcast(Event{Type: EventOffline})
	}
}

// SyncCompleted announces that a drain pass finished, so views refresh
// their displayed data.
func (h *Hub) SyncCompleted(replayed, remaining int) {
	h.Broadcast(Event{
		Type: EventSyncComplete,
		Data: map[string]any{
			"replayed":  replayed,
			"remaining": remaining,
		},
	})
}

// AnnounceUpdate tells views a new version is installed and waiting.
func (h *Hub) AnnounceUpdate(version string) {
	h.Broadcast(Event{
		Type: EventUpdateAvailable,
		Data: map[string]any{"version": version},
	})
}

// RequestReload tells every open view to reload. Sent after an update
// activates; stale and fresh versions must never coexist.
func (h *Hub) RequestReload() {
	h.Broadcast(Event{Type: EventReload})
}
