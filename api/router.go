// Package api exposes the latest power-flow snapshot over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/powerwatch/api/handler"
	"github.com/use-agent/powerwatch/api/middleware"
	"github.com/use-agent/powerwatch/cache"
	"github.com/use-agent/powerwatch/config"
)

// Deps are the collaborators behind the routes.
type Deps struct {
	// Source runs scrapes and reports session state.
	Source handler.Source

	// Latest is the snapshot cache the Source writes to.
	Latest *cache.Latest

	// Activity is told about every data request. May be nil.
	Activity handler.Activity

	Version   string
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth so monitoring probes always work. ctx bounds
// the rate limiter's background sweeper.
func NewRouter(ctx context.Context, deps Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(deps.Source, deps.StartTime, deps.Version))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.GET("/data", handler.Data(deps.Latest, deps.Activity))
	protected.POST("/refresh", handler.Refresh(deps.Source, deps.Activity))

	return r
}
