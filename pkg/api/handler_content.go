package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// Authoring handlers. Writes are restricted to the owning author (ADMIN may
// write anything); reads only require authentication. Mutations that change
// what students should see fan out sync tasks through the reconciler after
// the write lands; fan-out failures are logged, not surfaced, because the
// authoritative mutation already committed and the sweeper converges later.

func (s *Server) createStudyPlanHandler(c *echo.Context) error {
	var req models.CreateStudyPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	claims := claimsFrom(c)
	req.AuthorID = claims.UserID
	if req.WorkspaceID == nil {
		req.WorkspaceID = claims.WorkspaceID
	}

	plan, err := s.contents.CreateStudyPlan(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, plan)
}

func (s *Server) listStudyPlansHandler(c *echo.Context) error {
	claims := claimsFrom(c)
	authorID := claims.UserID
	if isAdmin(claims) {
		if v := c.QueryParam("author_id"); v != "" {
			authorID = v
		}
	}

	plans, err := s.contents.ListStudyPlans(c.Request().Context(), authorID, claims.WorkspaceID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, plans)
}

func (s *Server) getStudyPlanHandler(c *echo.Context) error {
	plan, err := s.contents.GetStudyPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, plan)
}

func (s *Server) updateStudyPlanHandler(c *echo.Context) error {
	planID := c.Param("id")
	if _, err := s.planForWrite(c, planID); err != nil {
		return err
	}

	var req models.UpdateStudyPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status != nil && !req.Status.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+string(*req.Status))
	}

	plan, err := s.contents.UpdateStudyPlan(c.Request().Context(), planID, req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, plan)
}

func (s *Server) deleteStudyPlanHandler(c *echo.Context) error {
	planID := c.Param("id")
	if _, err := s.planForWrite(c, planID); err != nil {
		return err
	}
	if err := s.contents.DeleteStudyPlan(c.Request().Context(), planID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, nil)
}

func (s *Server) listModulesHandler(c *echo.Context) error {
	modules, err := s.contents.ListModulesByPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, modules)
}

func (s *Server) createModuleHandler(c *echo.Context) error {
	var req models.CreateModuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.StudyPlanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "study_plan_id is required")
	}
	if _, err := s.planForWrite(c, req.StudyPlanID); err != nil {
		return err
	}

	module, err := s.contents.CreateModule(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, module)
}

func (s *Server) getModuleHandler(c *echo.Context) error {
	module, err := s.contents.GetModule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, module)
}

func (s *Server) updateModuleHandler(c *echo.Context) error {
	moduleID := c.Param("id")
	if _, err := s.moduleForWrite(c, moduleID); err != nil {
		return err
	}

	var req models.UpdateModuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	module, err := s.contents.UpdateModule(c.Request().Context(), moduleID, req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, module)
}

func (s *Server) deleteModuleHandler(c *echo.Context) error {
	moduleID := c.Param("id")
	if _, err := s.moduleForWrite(c, moduleID); err != nil {
		return err
	}
	if err := s.contents.DeleteModule(c.Request().Context(), moduleID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, nil)
}

// updateVirtualizationSettingsHandler handles
// PUT /api/v1/modules/:id/virtualization-settings.
func (s *Server) updateVirtualizationSettingsHandler(c *echo.Context) error {
	moduleID := c.Param("id")
	if _, err := s.moduleForWrite(c, moduleID); err != nil {
		return err
	}

	var req struct {
		InitialBatchSize    *int     `json:"initial_batch_size"`
		GenerationThreshold *float64 `json:"generation_threshold"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.InitialBatchSize != nil && *req.InitialBatchSize < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "initial_batch_size must be at least 1")
	}
	if req.GenerationThreshold != nil && (*req.GenerationThreshold < 0 || *req.GenerationThreshold > 1) {
		return echo.NewHTTPError(http.StatusBadRequest, "generation_threshold must be within [0,1]")
	}

	module, err := s.contents.UpdateModule(c.Request().Context(), moduleID, models.UpdateModuleRequest{
		InitialBatchSize:    req.InitialBatchSize,
		GenerationThreshold: req.GenerationThreshold,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, module)
}

// moduleReadinessHandler handles GET /api/v1/modules/:id/virtualization-readiness.
// Students get their own generation status folded in.
func (s *Server) moduleReadinessHandler(c *echo.Context) error {
	claims := claimsFrom(c)
	studentID := ""
	if claims.Role == models.RoleStudent {
		studentID = claims.UserID
	}

	readiness, err := s.contents.VirtualizationReadiness(c.Request().Context(), c.Param("id"), studentID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, readiness)
}

func (s *Server) listTopicsHandler(c *echo.Context) error {
	topics, err := s.contents.ListTopicsByModule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, topics)
}

func (s *Server) createTopicHandler(c *echo.Context) error {
	var req models.CreateTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ModuleID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "module_id is required")
	}
	if _, err := s.moduleForWrite(c, req.ModuleID); err != nil {
		return err
	}

	topic, err := s.contents.CreateTopic(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, topic)
}

func (s *Server) getTopicHandler(c *echo.Context) error {
	topic, err := s.contents.GetTopic(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, topic)
}

func (s *Server) updateTopicHandler(c *echo.Context) error {
	topicID := c.Param("id")
	if _, err := s.topicForWrite(c, topicID); err != nil {
		return err
	}

	var req models.UpdateTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	topic, err := s.contents.UpdateTopic(c.Request().Context(), topicID, req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, topic)
}

// publishTopicHandler handles PUT /api/v1/topics/:id/publish. Publishing
// fans out to students mid-module; retracting locks the derived virtual
// topics without destroying recorded progress.
func (s *Server) publishTopicHandler(c *echo.Context) error {
	topicID := c.Param("id")
	if _, err := s.topicForWrite(c, topicID); err != nil {
		return err
	}

	var req models.PublishTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	topic, wasPublished, err := s.contents.SetTopicPublished(c.Request().Context(), topicID, req.Published)
	if err != nil {
		return mapServiceError(err)
	}

	// Fan out only on a real transition; re-publishing an already published
	// topic must not re-enqueue sync work for every student.
	switch {
	case topic.Published && !wasPublished:
		s.fanOut(c, func() (int, error) {
			return s.reconciler.TopicPublished(c.Request().Context(), topic)
		})
	case !topic.Published && wasPublished:
		s.fanOut(c, func() (int, error) {
			return s.reconciler.TopicRetracted(c.Request().Context(), topic)
		})
	}
	return respond(c, http.StatusOK, topic)
}

func (s *Server) deleteTopicHandler(c *echo.Context) error {
	topicID := c.Param("id")
	topic, err := s.topicForWrite(c, topicID)
	if err != nil {
		return err
	}
	if err := s.contents.DeleteTopic(c.Request().Context(), topicID); err != nil {
		return mapServiceError(err)
	}

	// Deleting a published topic is a retraction from every student's view.
	if topic.Published {
		s.fanOut(c, func() (int, error) {
			return s.reconciler.TopicRetracted(c.Request().Context(), topic)
		})
	}
	return respond(c, http.StatusOK, nil)
}

func (s *Server) listContentsHandler(c *echo.Context) error {
	includeDeleted := c.QueryParam("include_deleted") == "true"
	contents, err := s.contents.ListContentsByTopic(c.Request().Context(), c.Param("id"), includeDeleted)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, contents)
}

func (s *Server) createContentHandler(c *echo.Context) error {
	var req models.CreateContentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TopicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic_id is required")
	}
	if !req.ContentType.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid content_type: "+string(req.ContentType))
	}
	if _, err := s.topicForWrite(c, req.TopicID); err != nil {
		return err
	}

	content, err := s.contents.CreateContent(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}

	s.fanOut(c, func() (int, error) {
		return s.reconciler.ContentAdded(c.Request().Context(), content)
	})
	return respond(c, http.StatusCreated, content)
}

func (s *Server) updateContentHandler(c *echo.Context) error {
	contentID := c.Param("id")
	if _, err := s.contentForWrite(c, contentID); err != nil {
		return err
	}

	var req models.UpdateContentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	content, err := s.contents.UpdateContent(c.Request().Context(), contentID, req)
	if err != nil {
		return mapServiceError(err)
	}

	// Only payload edits bump the source version and need re-adaptation.
	if req.Payload != nil {
		s.fanOut(c, func() (int, error) {
			return s.reconciler.ContentChanged(c.Request().Context(), content)
		})
	}
	return respond(c, http.StatusOK, content)
}

func (s *Server) deleteContentHandler(c *echo.Context) error {
	contentID := c.Param("id")
	if _, err := s.contentForWrite(c, contentID); err != nil {
		return err
	}

	content, err := s.contents.SoftDeleteContent(c.Request().Context(), contentID)
	if err != nil {
		return mapServiceError(err)
	}

	s.fanOut(c, func() (int, error) {
		return s.reconciler.ContentRemoved(c.Request().Context(), content)
	})
	return respond(c, http.StatusOK, nil)
}

// fanOut runs a reconciler hook and logs failures instead of failing the
// request: the authoring write already committed.
func (s *Server) fanOut(c *echo.Context, hook func() (int, error)) {
	if s.reconciler == nil {
		return
	}
	if _, err := hook(); err != nil {
		slog.Error("sync fan-out failed",
			"path", c.Request().URL.Path,
			"error", err)
	}
}

// planForWrite loads a plan and enforces author ownership for mutations.
func (s *Server) planForWrite(c *echo.Context, planID string) (*models.StudyPlan, error) {
	plan, err := s.contents.GetStudyPlan(c.Request().Context(), planID)
	if err != nil {
		return nil, mapServiceError(err)
	}

	claims := claimsFrom(c)
	if claims.Role != models.RoleAdmin && plan.AuthorID != claims.UserID {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not the plan author")
	}
	return plan, nil
}

func (s *Server) moduleForWrite(c *echo.Context, moduleID string) (*models.Module, error) {
	module, err := s.contents.GetModule(c.Request().Context(), moduleID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if _, err := s.planForWrite(c, module.StudyPlanID); err != nil {
		return nil, err
	}
	return module, nil
}

func (s *Server) topicForWrite(c *echo.Context, topicID string) (*models.Topic, error) {
	topic, err := s.contents.GetTopic(c.Request().Context(), topicID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if _, err := s.moduleForWrite(c, topic.ModuleID); err != nil {
		return nil, err
	}
	return topic, nil
}

func (s *Server) contentForWrite(c *echo.Context, contentID string) (*models.TopicContent, error) {
	content, err := s.contents.GetContent(c.Request().Context(), contentID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	if _, err := s.topicForWrite(c, content.TopicID); err != nil {
		return nil, err
	}
	return content, nil
}
