package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

var (
	pollInterval      = 3 * time.Second
	heartbeatInterval = 15 * time.Second
)

// handleSSE streams unit events written after the client connected.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		// Only events newer than the current max are pushed.
		var lastSeenID uint
		var latest []models.UnitEvent
		if err := db.Order("id DESC").Limit(1).Find(&latest).Error; err == nil && len(latest) > 0 {
			lastSeenID = latest[0].ID
		}

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(pollInterval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var fresh []models.UnitEvent
				if err := db.Where("id > ?", lastSeenID).Order("id ASC").Find(&fresh).Error; err != nil {
					continue
				}
				for _, e := range fresh {
					writeSSE(c.Writer, "unit_event", eventView(e))
					lastSeenID = e.ID
				}
				if len(fresh) > 0 {
					c.Writer.Flush()
				}
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
