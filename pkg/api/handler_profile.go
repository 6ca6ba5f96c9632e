package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// getProfileHandler handles GET /api/v1/profiles/:student_id. Students read
// their own profile; instructors and admins may read any. Missing profiles
// come back as the neutral default, the same view generation uses.
func (s *Server) getProfileHandler(c *echo.Context) error {
	studentID := c.Param("student_id")
	if err := s.ensureProfileAccess(c, studentID, false); err != nil {
		return err
	}

	profile, err := s.profiles.ProfileOrDefault(c.Request().Context(), studentID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, profile)
}

// updateProfileHandler handles PUT /api/v1/profiles/:student_id. Only the
// student (or an admin) may write; every write bumps the profile version so
// personalization fingerprints go stale.
func (s *Server) updateProfileHandler(c *echo.Context) error {
	studentID := c.Param("student_id")
	if err := s.ensureProfileAccess(c, studentID, true); err != nil {
		return err
	}

	var req models.UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	for style, weight := range req.LearningStyle {
		if weight < 0 || weight > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "learning_style weight for "+style+" must be within [0,1]")
		}
	}

	profile, err := s.profiles.UpsertProfile(c.Request().Context(), studentID, &req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, profile)
}

func (s *Server) ensureProfileAccess(c *echo.Context, studentID string, write bool) error {
	claims := claimsFrom(c)
	if claims.UserID == studentID || claims.Role == models.RoleAdmin {
		return nil
	}
	if !write && (claims.Role == models.RoleTeacher || claims.Role == models.RoleInstituteAdmin) {
		return nil
	}
	return echo.NewHTTPError(http.StatusForbidden, "profile belongs to another student")
}
