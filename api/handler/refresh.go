package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/powerwatch/models"
)

// Refresh returns a handler for POST /api/v1/refresh.
//
// Flow:
//  1. Mark activity so the scheduler resumes if it was suspended.
//  2. Run a scrape now, joining any cycle already in flight.
//  3. Return the resulting snapshot, which is the cached one when the
//     cycle failed.
func Refresh(src Source, act Activity) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// ── 1. Activity ─────────────────────────────────────────────
		touch(act)

		// ── 2. Scrape ───────────────────────────────────────────────
		snap, err := src.Scrape(c.Request.Context())
		timing := &models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
		if err != nil {
			respondError(c, err, timing)
			return
		}

		// ── 3. Respond ──────────────────────────────────────────────
		if snap == nil {
			notReady(c, "scrape failed and no earlier snapshot is available")
			return
		}
		c.JSON(http.StatusOK, models.DataResponse{
			Success: true,
			Data:    snap,
			AgeMs:   snap.Age(time.Now()).Milliseconds(),
			Timing:  timing,
		})
	}
}
