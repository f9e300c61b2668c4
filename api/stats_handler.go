package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hirewire/workq/health"
)

// getStats handles GET /v1/stats.
func (a *API) getStats(c *gin.Context) {
	stats, err := a.eng.Health().Stats(c.Request.Context())
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

// getHealth handles GET /v1/health. Unhealthy maps to 503 so load
// balancers stop routing; degraded stays 200 because stats are still
// served from the store.
func (a *API) getHealth(c *gin.Context) {
	report := a.eng.Health().Check(c.Request.Context())

	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
