package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"socialnotify/pkg/jobqueue"
	"socialnotify/pkg/logger"
)

// JobReplayer 由 jobqueue.ReplayService 实现
type JobReplayer interface {
	ListDead(ctx context.Context, limit int) ([]jobqueue.Job, error)
	Replay(ctx context.Context, id string) error
	ReplayAll(ctx context.Context, limit int) (int, error)
}

type JobHandler struct {
	jobs   JobReplayer
	logger *zap.Logger
}

func NewJobHandler(jobs JobReplayer, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

// ListDead handles GET /notifications/jobs/dead
func (h *JobHandler) ListDead(c *gin.Context) {
	jobs, err := h.jobs.ListDead(c.Request.Context(), limitParam(c))
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to list dead jobs", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to list dead jobs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": jobs})
}

// Replay handles POST /notifications/jobs/:id/replay
func (h *JobHandler) Replay(c *gin.Context) {
	id := c.Param("id")
	err := h.jobs.Replay(c.Request.Context(), id)
	if errors.Is(err, jobqueue.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "dead job not found")
		return
	}
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to replay job", zap.String("job_id", id), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to replay job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReplayAll handles POST /notifications/jobs/replay
func (h *JobHandler) ReplayAll(c *gin.Context) {
	n, err := h.jobs.ReplayAll(c.Request.Context(), limitParam(c))
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to replay dead jobs", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to replay jobs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"replayed": n}})
}
