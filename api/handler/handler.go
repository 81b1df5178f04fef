// Package handler implements the HTTP handlers of the powerwatch API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/session"
)

// Source is the orchestrator as seen by the handlers.
type Source interface {
	Scrape(ctx context.Context) (*models.Snapshot, error)
	LatestData() *models.Snapshot
	SessionState() session.State
}

// Activity receives a signal on every consumer request.
type Activity interface {
	Touch()
}

func touch(a Activity) {
	if a != nil {
		a.Touch()
	}
}

func notReady(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, models.DataResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeNotReady,
			Message: msg,
		},
	})
}

func respondError(c *gin.Context, err error, timing *models.TimingInfo) {
	var scrapeErr *models.ScrapeError
	switch {
	case errors.As(err, &scrapeErr):
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		scrapeErr = models.NewScrapeError(models.ErrCodeTimeout, "request ended before the scrape finished", err)
	default:
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(scrapeErr), models.DataResponse{
		Success: false,
		Error:   scrapeErr.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeNotReady:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeLoginFailed, models.ErrCodeSessionExpired, models.ErrCodeNavigation, models.ErrCodeExtraction:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
