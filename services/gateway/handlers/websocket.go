package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jinterlante1206/LedgerLocal/services/gateway/views"
)

var upgrader = websocket.Upgrader{
	// The gateway binds to loopback; views connect from the app origin
	// it proxies, so origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleViewSocket upgrades a view connection and hands it to the hub.
func HandleViewSocket(hub *views.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		hub.Serve(ws)
	}
}
