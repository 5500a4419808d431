package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/buttermb/menulink/internal/events"
	"github.com/buttermb/menulink/pkg/middleware"
	"github.com/buttermb/menulink/pkg/response"
)

// StreamHandler bridges the in-process event bus onto SSE for the
// admin dashboard
type StreamHandler struct {
	bus *events.Bus
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(bus *events.Bus) *StreamHandler {
	return &StreamHandler{bus: bus}
}

// Stream handles the live event feed for a tenant. An optional menu_id
// query narrows the feed to one menu. Delivery is best-effort: a slow
// consumer loses events rather than slowing publishers down.
// GET /api/v1/admin/events/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok || tenantID == "" {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Missing tenant context"))
		return
	}
	menuID := c.Query("menu_id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := h.bus.Subscribe(tenantID, menuID, 64)
	defer sub.Close()

	c.Writer.WriteString("event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		case event, open := <-sub.C:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			c.Writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data))
			c.Writer.Flush()
		}
	}
}
