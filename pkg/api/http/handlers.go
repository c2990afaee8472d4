package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/dagrun/internal/application/orchestrator"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeError maps engine errors onto HTTP statuses
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrConfiguration):
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrNotFound):
		abort(c, http.StatusNotFound, "NOT_FOUND", "Task not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		abort(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage service unavailable")
	case errors.Is(err, orchestrator.ErrShuttingDown):
		abort(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abort(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	store := "ok"
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			status = "degraded"
			store = "unavailable"
		}
	}

	active := 0
	if s.orchestrator != nil {
		active = len(s.orchestrator.ActiveExecutions())
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC(),
		"environment":  s.environment,
		"active_tasks": active,
		"checks": gin.H{
			"api":   "ok",
			"store": store,
		},
	})
}

// handleSubmitTask handles task submission
func (s *Server) handleSubmitTask(c *gin.Context) {
	var req domain.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	task, err := s.orchestrator.Submit(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// handleGetTask returns the current snapshot of a task
func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// handleGetLogs returns the event log of a task
func (s *Server) handleGetLogs(c *gin.Context) {
	logs, err := s.orchestrator.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// handleGetReplay returns the task, its sorted log and the replay duration
func (s *Server) handleGetReplay(c *gin.Context) {
	speed := 1.0
	if raw := c.Query("speed"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > s.maxSpeed {
			abort(c, http.StatusBadRequest, "INVALID_REQUEST", "speed must be greater than 0 and at most "+strconv.FormatFloat(s.maxSpeed, 'g', -1, 64))
			return
		}
		speed = v
	}

	data, err := s.orchestrator.Replay(c.Request.Context(), c.Param("id"), speed)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"replay": data})
}

// handleListTasks lists stored task ids
func (s *Server) handleListTasks(c *gin.Context) {
	ids, err := s.orchestrator.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"tasks":  ids,
	})
}

// handleDeleteTask removes a task
func (s *Server) handleDeleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.orchestrator.Delete(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Task " + id + " deleted",
	})
}
