package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// registerCallHandler handles POST /api/v1/ai-monitoring/calls: the
// pre-flight admission check. A denial is not an internal error — the caller
// gets the decision back with a machine-readable reason.
func (s *Server) registerCallHandler(c *echo.Context) error {
	var req models.RegisterCallRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Provider == "" || req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider and model are required")
	}
	if req.PromptTokens < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt_tokens must not be negative")
	}

	claims := claimsFrom(c)
	if req.UserID == "" || !isAdmin(claims) {
		req.UserID = claims.UserID
	}

	call, decision, err := s.gate.Admit(c.Request().Context(), &req, claims.WorkspaceID)
	if err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			return respondError(c, http.StatusPaymentRequired, &errorBody{
				Code:    "budget-denied",
				Message: "ai budget exceeded for scope " + decision.Scope,
				Details: decision,
			})
		}
		return mapServiceError(err)
	}

	return respond(c, http.StatusCreated, RegisterCallResponse{Call: call, Decision: decision})
}

// finalizeCallHandler handles PUT /api/v1/ai-monitoring/calls/:call_id: the
// post-flight report. The final cost is recomputed server-side from the
// reported token counts; any cost the client sends is ignored.
func (s *Server) finalizeCallHandler(c *echo.Context) error {
	var req models.UpdateCallRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Success == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "success is required")
	}

	call, err := s.gate.Finalize(c.Request().Context(), c.Param("call_id"), &req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, call)
}

// usageStatsHandler handles GET /api/v1/ai-monitoring/stats.
func (s *Server) usageStatsHandler(c *echo.Context) error {
	window := models.WindowDaily
	if v := c.QueryParam("window"); v != "" {
		window = models.UsageWindow(v)
		if !window.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window: must be daily, weekly, or monthly")
		}
	}

	summary, err := s.gate.Usage(c.Request().Context(), window, c.QueryParam("user_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, summary)
}

// getBudgetConfigHandler handles GET /api/v1/ai-monitoring/config.
func (s *Server) getBudgetConfigHandler(c *echo.Context) error {
	cfg, err := s.gate.EffectiveConfig(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, cfg)
}

// updateBudgetConfigHandler handles PUT /api/v1/ai-monitoring/config.
func (s *Server) updateBudgetConfigHandler(c *echo.Context) error {
	var req models.UpdateBudgetConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	claims := claimsFrom(c)
	cfg, err := s.gate.UpdateConfig(c.Request().Context(), &req, claims.UserID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, cfg)
}

// listAlertsHandler handles GET /api/v1/ai-monitoring/alerts. With
// active=true only undismissed alerts are returned.
func (s *Server) listAlertsHandler(c *echo.Context) error {
	includeDismissed := c.QueryParam("active") != "true"
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be within [1,1000]")
		}
		limit = n
	}

	alerts, err := s.ledger.ListAlerts(c.Request().Context(), includeDismissed, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, alerts)
}

// dismissAlertHandler handles POST /api/v1/ai-monitoring/alerts/:id/dismiss.
func (s *Server) dismissAlertHandler(c *echo.Context) error {
	if err := s.ledger.DismissAlert(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, nil)
}
