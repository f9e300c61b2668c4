// Package api exposes the job system over HTTP: enqueue, job status,
// queue statistics, and health.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hirewire/workq/engine"
)

// API wraps the engine and provides HTTP handlers.
type API struct {
	eng    *engine.Engine
	apiKey string
	logger *slog.Logger
}

// New creates an API over the given engine. A non-empty apiKey guards
// every route behind an X-API-Key header check.
func New(eng *engine.Engine, apiKey string, logger *slog.Logger) *API {
	return &API{eng: eng, apiKey: apiKey, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all routes into the given router.
func (a *API) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	if a.apiKey != "" {
		v1.Use(a.requireAPIKey)
	}

	v1.POST("/jobs", a.submitJob)
	v1.GET("/jobs", a.listJobs)
	v1.GET("/jobs/:jobId", a.getJob)
	v1.GET("/stats", a.getStats)

	v1.GET("/dlq", a.listDLQ)
	v1.POST("/dlq/:jobId/replay", a.replayDLQ)
	v1.DELETE("/dlq", a.purgeDLQ)

	// Health stays unauthenticated for load balancer probes.
	router.GET("/v1/health", a.getHealth)
}

// requireAPIKey rejects requests without the configured X-API-Key.
func (a *API) requireAPIKey(c *gin.Context) {
	if c.GetHeader("X-API-Key") != a.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
		return
	}
	c.Next()
}
