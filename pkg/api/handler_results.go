package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// recordResultHandler handles POST /api/v1/content/results. Writes the
// result, recomputes topic and module progress, and lets the scheduler react
// when the write completed a topic.
func (s *Server) recordResultHandler(c *echo.Context) error {
	var req models.RecordResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.VirtualContentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "virtual_content_id is required")
	}
	if req.Completion < 0 || req.Completion > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "completion_percentage must be within [0,1]")
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 100) {
		return echo.NewHTTPError(http.StatusBadRequest, "score must be within [0,100]")
	}

	ctx := c.Request().Context()
	vc, err := s.virtual.GetVirtualContent(ctx, req.VirtualContentID)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.ensureStudentOwns(c, vc.StudentID); err != nil {
		return err
	}

	vtBefore, err := s.virtual.GetVirtualTopic(ctx, vc.VirtualTopicID)
	if err != nil {
		return mapServiceError(err)
	}

	result, err := s.results.InsertResult(ctx, &models.ContentResult{
		VirtualTopicContentID: vc.ID,
		StudentID:             vc.StudentID,
		Completion:            req.Completion,
		Score:                 req.Score,
		SessionData:           req.SessionData,
	})
	if err != nil {
		return mapServiceError(err)
	}

	vt, err := s.virtual.RecomputeTopicProgress(ctx, vc.VirtualTopicID)
	if err != nil {
		return mapServiceError(err)
	}

	vm, err := s.virtual.GetVirtualModule(ctx, vt.VirtualModuleID)
	if err != nil {
		return mapServiceError(err)
	}
	published, err := s.contents.PublishedTopicCount(ctx, vm.ModuleID)
	if err != nil {
		return mapServiceError(err)
	}
	vm, err = s.virtual.RecomputeModuleProgress(ctx, vm.ID, published)
	if err != nil {
		return mapServiceError(err)
	}

	// A topic crossing into completed advances progression: unlock the next
	// topic and give the scheduler a chance to open the next module.
	if vt.Status == models.VirtualTopicStatusCompleted &&
		vtBefore.Status != models.VirtualTopicStatusCompleted {
		s.scheduler.OnTopicCompleted(ctx, vt)
	}

	return respond(c, http.StatusCreated, RecordResultResponse{
		Result:        result,
		VirtualTopic:  vt,
		VirtualModule: vm,
	})
}

// listResultsHandler handles GET /api/v1/virtual/contents/:id/results.
func (s *Server) listResultsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	vc, err := s.virtual.GetVirtualContent(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.ensureStudentOwns(c, vc.StudentID); err != nil {
		return err
	}

	results, err := s.results.ListResultsByContent(ctx, vc.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, results)
}
