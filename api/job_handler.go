package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hirewire/workq"
	"github.com/hirewire/workq/dlq"
	"github.com/hirewire/workq/id"
	"github.com/hirewire/workq/job"
)

const maxListLimit = 100

// SubmitJobRequest is the payload for POST /v1/jobs.
type SubmitJobRequest struct {
	Name        string          `json:"name" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	Queue       string          `json:"queue"`
	Priority    *int            `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	DelayMs     int64           `json:"delay_ms"`
}

// submitJob handles POST /v1/jobs.
func (a *API) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var opts []job.Option
	if req.Queue != "" {
		opts = append(opts, job.WithQueue(req.Queue))
	}
	if req.Priority != nil {
		opts = append(opts, job.WithPriority(*req.Priority))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.DelayMs > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelayMs)*time.Millisecond))
	}

	ack, err := a.eng.EnqueueRaw(c.Request.Context(), req.Name, req.Payload, opts...)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ack)
}

// getJob handles GET /v1/jobs/:jobId.
func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid job ID: %v", err)})
		return
	}

	view, err := a.eng.Tracker().Get(c.Request.Context(), jobID)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// listJobs handles GET /v1/jobs?state=waiting&queue=video&limit=20&offset=0.
func (a *API) listJobs(c *gin.Context) {
	var query struct {
		State  string `form:"state" binding:"required"`
		Queue  string `form:"queue"`
		Limit  int    `form:"limit"`
		Offset int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, ok := parseState(query.State)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown state %q", query.State)})
		return
	}

	limit := query.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	views, err := a.eng.Tracker().List(c.Request.Context(), state, job.ListOpts{
		Queue:  query.Queue,
		Limit:  limit,
		Offset: query.Offset,
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func parseState(s string) (job.State, bool) {
	for _, state := range job.States {
		if string(state) == s {
			return state, true
		}
	}
	return "", false
}

// renderError maps domain errors to HTTP status codes.
func (a *API) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workq.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, workq.ErrQueueNotFound), errors.Is(err, workq.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dlq.ErrNotReplayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workq.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down, not accepting new jobs"})
	case errors.Is(err, workq.ErrBrokerUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue broker unavailable"})
	default:
		a.logger.Error("request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
