package controlplane

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/driftlock/driftsync/internal/bus"
)

const (
	eventBufferSize = 64
	writeTimeout    = 20 * time.Second
)

// handleEvents upgrades to a websocket and streams bus events matching the
// pattern query parameter, defaulting to all sync events. Slow consumers
// lose events rather than stall the bus.
func (s *Server) handleEvents(c *gin.Context) {
	pattern := c.DefaultQuery("pattern", "sync:**")

	events := make(chan bus.Event, eventBufferSize)
	unsub, err := s.bus.Subscribe(pattern, func(ev bus.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer unsub()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	slog.Debug("event stream open", "pattern", pattern, "ip", c.ClientIP())
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return
		case ev := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}
