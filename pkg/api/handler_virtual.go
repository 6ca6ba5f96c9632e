package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// progressiveGenerationHandler handles POST /api/v1/virtual/progressive-generation.
// Runs one scheduling pass for the calling student over the given plan and
// returns the current virtual modules plus any tasks the pass enqueued.
func (s *Server) progressiveGenerationHandler(c *echo.Context) error {
	var req models.VirtualizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.StudyPlanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan_id is required")
	}

	claims := claimsFrom(c)
	outcome, err := s.scheduler.Schedule(c.Request().Context(), claims.UserID, req.StudyPlanID)
	if err != nil {
		return mapServiceError(err)
	}

	return respond(c, http.StatusAccepted, VirtualizeResponse{
		Modules: outcome.Modules,
		TaskIDs: outcome.TaskIDs,
	})
}

// triggerNextTopicHandler handles POST /api/v1/virtual/trigger-next-topic.
// Unlocks the next locked topic of the module; when every generated topic is
// already unlocked, a targeted generation task is enqueued instead and the
// response reports Generating.
func (s *Server) triggerNextTopicHandler(c *echo.Context) error {
	var req models.TriggerNextTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.VirtualModuleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "virtual_module_id is required")
	}

	claims := claimsFrom(c)
	vt, outcome, err := s.scheduler.TriggerNextTopic(c.Request().Context(), claims.UserID, req.VirtualModuleID)
	if err != nil {
		return mapServiceError(err)
	}

	return respond(c, http.StatusAccepted, TriggerNextTopicResponse{
		UnlockedTopic: vt,
		Generating:    vt == nil,
		Outcome:       outcome,
	})
}

// listVirtualModulesHandler handles GET /api/v1/virtual/study-plans/:id/modules.
func (s *Server) listVirtualModulesHandler(c *echo.Context) error {
	claims := claimsFrom(c)
	modules, err := s.virtual.ListVirtualModules(c.Request().Context(), claims.UserID, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, modules)
}

// getVirtualModuleHandler handles GET /api/v1/virtual/modules/:id, returning
// the module with its topics and each topic's adapted contents.
func (s *Server) getVirtualModuleHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	vm, err := s.virtual.GetVirtualModule(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.ensureStudentOwns(c, vm.StudentID); err != nil {
		return err
	}

	topics, err := s.virtual.ListVirtualTopics(ctx, vm.ID)
	if err != nil {
		return mapServiceError(err)
	}

	details := make([]models.VirtualTopicDetail, 0, len(topics))
	for _, vt := range topics {
		contents, err := s.virtual.ListVirtualContents(ctx, vt.ID)
		if err != nil {
			return mapServiceError(err)
		}
		details = append(details, models.VirtualTopicDetail{VirtualTopic: vt, Contents: contents})
	}

	return respond(c, http.StatusOK, VirtualModuleResponse{VirtualModule: *vm, Topics: details})
}

// listVirtualContentsHandler handles GET /api/v1/virtual/topics/:id/contents.
func (s *Server) listVirtualContentsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	vt, err := s.virtual.GetVirtualTopic(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.ensureStudentOwns(c, vt.StudentID); err != nil {
		return err
	}

	contents, err := s.virtual.ListVirtualContents(ctx, vt.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, models.VirtualTopicDetail{VirtualTopic: *vt, Contents: contents})
}

// ensureStudentOwns rejects access to another student's virtual state.
// Admins may read anything for support purposes.
func (s *Server) ensureStudentOwns(c *echo.Context, studentID string) error {
	claims := claimsFrom(c)
	if isAdmin(claims) || claims.UserID == studentID {
		return nil
	}
	return echo.NewHTTPError(http.StatusForbidden, "resource belongs to another student")
}
