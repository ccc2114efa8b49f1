// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package views

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialTestView connects one websocket client to a hub behind an
// httptest server.
func dialTestView(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		hub.Serve(ws)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Wait for the hub to register the connection.
	require.Eventually(t, func() bool { return hub.Count() > 0 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func TestBroadcastReachesConnectedView(t *testing.T) {
	hub := NewHub(0, nil, nil)
	conn := dialTestView(t, hub)

	hub.SyncCompleted(3, 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, EventSyncComplete, evt.Type)
	assert.EqualValues(t, 3, evt.Data["replayed"])
	assert.EqualValues(t, 1, evt.Data["remaining"])
}

func TestBroadcastWithNoViews(t *testing.T) {
	hub := NewHub(0, nil, nil)
	hub.OnlineChanged(true)
	hub.RequestReload()
	assert.Equal(t, 0, hub.Count())
}

func TestRequestQueueSnapshot(t *testing.T) {
	hub := NewHub(time.Second, nil, nil)
	conn := dialTestView(t, hub)

	// The view answers snapshot requests with its in-memory queue.
	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			return
		}
		if evt.Type != EventQueueSnapshotRequest {
			return
		}
		conn.WriteJSON(map[string]any{
			"type":       "queue-snapshot",
			"request_id": evt.Data["request_id"],
			"items":      []map[string]any{{"id": "a1"}},
		})
	}()

	items, err := hub.RequestQueueSnapshot(context.Background())
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(items, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "a1", decoded[0]["id"])
}

func TestRequestQueueSnapshotNoViews(t *testing.T) {
	hub := NewHub(time.Second, nil, nil)
	_, err := hub.RequestQueueSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoViews)
}

func TestRequestQueueSnapshotTimeout(t *testing.T) {
	hub := NewHub(100*time.Millisecond, nil, nil)
	dialTestView(t, hub)

	// The view never answers; the caller gets a bounded timeout.
	start := time.Now()
	_, err := hub.RequestQueueSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestViewDisconnectUpdatesCount(t *testing.T) {
	hub := NewHub(0, nil, nil)
	conn := dialTestView(t, hub)
	assert.Equal(t, 1, hub.Count())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 },
		2*time.Second, 10*time.Millisecond)
}
