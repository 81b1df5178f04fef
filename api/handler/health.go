package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/session"
)

// Health returns a handler for GET /api/v1/health.
//
// Status is "starting" until the first snapshot exists, "degraded" while the
// browser session is not authenticated, and "healthy" otherwise.
func Health(src Source, startTime time.Time, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := src.SessionState()
		snap := src.LatestData()

		status := "healthy"
		switch {
		case snap == nil:
			status = "starting"
		case state != session.Authenticated:
			status = "degraded"
		}

		resp := models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Session: state.String(),
			Version: version,
		}
		if snap != nil {
			ts := snap.Timestamp
			resp.LastUpdate = &ts
		}
		c.JSON(http.StatusOK, resp)
	}
}
