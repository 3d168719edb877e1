package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parking-lot-backend/internal/engine"
)

// GetAvailability handles GET /api/availability. Without query
// parameters it reports the spots free right now; with start and end
// (RFC3339) it reports the window's minimum availability.
func (h *Handler) GetAvailability(c *gin.Context) {
	var win *engine.Window

	startParam := c.Query("start")
	endParam := c.Query("end")
	if startParam != "" || endParam != "" {
		start, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": "invalid 'start' timestamp, use RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "reason": "invalid 'end' timestamp, use RFC3339"})
			return
		}
		win = &engine.Window{Start: start, End: end}
	}

	res, err := h.dispatch.Do(c.Request.Context(), engine.OpAvailability, engine.AvailabilityRequest{Window: win})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
