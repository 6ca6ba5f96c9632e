package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

// Claims are the bearer-token claims every authenticated request carries.
type Claims struct {
	UserID      string      `json:"user_id"`
	Email       string      `json:"email"`
	Role        models.Role `json:"role"`
	WorkspaceID *string     `json:"workspace_id,omitempty"`
	jwt.RegisteredClaims
}

const claimsContextKey = "auth.claims"

// authenticate parses and verifies the Authorization bearer token and stores
// the claims on the request context.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		claims := &Claims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
		if claims.UserID == "" || !claims.Role.IsValid() {
			return echo.NewHTTPError(http.StatusUnauthorized, "token is missing required claims")
		}

		c.Set(claimsContextKey, claims)
		return next(c)
	}
}

// requireRole returns middleware that rejects callers whose role is not in
// the allow list. Must run after authenticate.
func requireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			claims := claimsFrom(c)
			for _, r := range roles {
				if claims.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		}
	}
}

// claimsFrom returns the authenticated claims, or empty claims on routes
// that never passed authenticate (tests mostly).
func claimsFrom(c *echo.Context) *Claims {
	if claims, ok := c.Get(claimsContextKey).(*Claims); ok {
		return claims
	}
	return &Claims{}
}

// isAdmin reports whether the caller holds a platform-admin role.
func isAdmin(claims *Claims) bool {
	return claims.Role == models.RoleAdmin || claims.Role == models.RoleInstituteAdmin
}
