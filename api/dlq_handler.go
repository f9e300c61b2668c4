package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hirewire/workq/id"
)

// listDLQ handles GET /v1/dlq?queue=video&limit=20&offset=0.
func (a *API) listDLQ(c *gin.Context) {
	var query struct {
		Queue  string `form:"queue"`
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := query.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	entries, err := a.eng.DLQ().List(c.Request.Context(), query.Queue, limit, query.Offset)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// replayDLQ handles POST /v1/dlq/:jobId/replay.
func (a *API) replayDLQ(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid job ID: %v", err)})
		return
	}

	replayed, err := a.eng.DLQ().Replay(c.Request.Context(), jobID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": replayed.ID, "status": "queued"})
}

// purgeDLQ handles DELETE /v1/dlq?queue=video.
func (a *API) purgeDLQ(c *gin.Context) {
	purged, err := a.eng.DLQ().Purge(c.Request.Context(), c.Query("queue"))
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}
