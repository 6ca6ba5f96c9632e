package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// queueHealthHandler handles GET /api/v1/queue/health.
func (s *Server) queueHealthHandler(c *echo.Context) error {
	return respond(c, http.StatusOK, s.workerPool.Health(c.Request().Context()))
}

// queueStatsHandler handles GET /api/v1/queue/stats.
func (s *Server) queueStatsHandler(c *echo.Context) error {
	stats, err := s.queue.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, stats)
}

// listTasksHandler handles GET /api/v1/queue/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	filter := queue.TaskFilter{Limit: 50}

	if v := c.QueryParam("status"); v != "" {
		st := models.TaskStatus(v)
		if !st.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
		filter.Status = st
	}
	if v := c.QueryParam("task_type"); v != "" {
		tt := models.TaskType(v)
		if !tt.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid task_type: "+v)
		}
		filter.TaskType = tt
	}
	filter.StudentID = c.QueryParam("student_id")
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be within [1,500]")
		}
		filter.Limit = n
	}

	tasks, err := s.queue.ListTasks(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, tasks)
}

// getTaskHandler handles GET /api/v1/queue/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	task, err := s.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, task)
}

// cancelTaskHandler handles POST /api/v1/queue/tasks/:id/cancel. Pending
// tasks are cancelled in place; a processing task gets its worker context
// cancelled and the worker records the terminal state.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("id")

	task, err := s.queue.CancelPending(ctx, taskID)
	if err == nil {
		return respond(c, http.StatusOK, task)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return mapServiceError(err)
	}

	// Not pending: either the id is unknown or the task already left the
	// pending state.
	task, getErr := s.queue.Get(ctx, taskID)
	if getErr != nil {
		return mapServiceError(getErr)
	}
	if task.Status == models.TaskStatusProcessing && s.workerPool.CancelTask(taskID) {
		return respond(c, http.StatusAccepted, task)
	}
	return echo.NewHTTPError(http.StatusConflict, "task is not in a cancellable state")
}

// retryTaskHandler handles POST /api/v1/queue/tasks/:id/retry. Re-queues a
// failed or cancelled task; if an equivalent live task exists, that one is
// returned instead.
func (s *Server) retryTaskHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	taskID := c.Param("id")

	if _, err := s.queue.Get(ctx, taskID); err != nil {
		return mapServiceError(err)
	}

	task, err := s.queue.Retry(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusConflict, "task is not in a retryable state")
		}
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, task)
}
