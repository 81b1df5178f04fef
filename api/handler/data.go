package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/powerwatch/cache"
	"github.com/use-agent/powerwatch/models"
)

// Data returns a handler for GET /api/v1/data.
//
// It serves the latest snapshot without touching the browser. The optional
// max_age query parameter (a Go duration, e.g. "90s") rejects snapshots
// older than that with DATA_NOT_READY.
func Data(latest *cache.Latest, act Activity) gin.HandlerFunc {
	return func(c *gin.Context) {
		touch(act)
		now := time.Now()

		var snap *models.Snapshot
		if raw := c.Query("max_age"); raw != "" {
			maxAge, err := time.ParseDuration(raw)
			if err != nil || maxAge <= 0 {
				c.JSON(http.StatusBadRequest, models.DataResponse{
					Success: false,
					Error: &models.ErrorDetail{
						Code:    models.ErrCodeInvalidInput,
						Message: fmt.Sprintf("invalid max_age %q: want a positive duration such as 90s", raw),
					},
				})
				return
			}
			fresh, ok := latest.Get(maxAge, now)
			if !ok {
				notReady(c, fmt.Sprintf("no snapshot newer than %s", maxAge))
				return
			}
			snap = fresh
		} else {
			snap = latest.Load()
		}

		if snap == nil {
			notReady(c, "no snapshot has been captured yet")
			return
		}
		c.JSON(http.StatusOK, models.DataResponse{
			Success: true,
			Data:    snap,
			AgeMs:   snap.Age(now).Milliseconds(),
		})
	}
}
