package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

func signToken(t *testing.T, secret []byte, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func testClaims(role models.Role) *Claims {
	return &Claims{
		UserID: "user-1",
		Email:  "user@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthenticate(t *testing.T) {
	secret := []byte("test-secret")
	s := &Server{jwtSecret: secret}

	e := echo.New()
	e.GET("/me", func(c *echo.Context) error {
		return c.String(http.StatusOK, claimsFrom(c).UserID)
	}, s.authenticate)

	tests := []struct {
		name       string
		authHeader string
		wantCode   int
	}{
		{
			name:       "missing header",
			authHeader: "",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "not a bearer token",
			authHeader: "Basic abc123",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not.a.jwt",
			wantCode:   http.StatusUnauthorized,
		},
		{
			name:       "wrong signing key",
			authHeader: "Bearer " + signToken(t, []byte("other-secret"), testClaims(models.RoleStudent)),
			wantCode:   http.StatusUnauthorized,
		},
		{
			name: "expired token",
			authHeader: "Bearer " + signToken(t, secret, &Claims{
				UserID: "user-1",
				Role:   models.RoleStudent,
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "missing user_id claim",
			authHeader: "Bearer " + signToken(t, secret, &Claims{
				Role: models.RoleStudent,
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "unknown role claim",
			authHeader: "Bearer " + signToken(t, secret, &Claims{
				UserID: "user-1",
				Role:   models.Role("SUPERUSER"),
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			authHeader: "Bearer " + signToken(t, secret, testClaims(models.RoleStudent)),
			wantCode:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "user-1", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	secret := []byte("test-secret")
	s := &Server{jwtSecret: secret}

	e := echo.New()
	e.GET("/admin-only", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, s.authenticate, requireRole(models.RoleAdmin))

	tests := []struct {
		name     string
		role     models.Role
		wantCode int
	}{
		{"student is rejected", models.RoleStudent, http.StatusForbidden},
		{"teacher is rejected", models.RoleTeacher, http.StatusForbidden},
		{"admin passes", models.RoleAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin-only", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, secret, testClaims(tt.role)))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestClaimsFrom_Unauthenticated(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	claims := claimsFrom(c)
	require.NotNil(t, claims)
	assert.Empty(t, claims.UserID)
	assert.False(t, claims.Role.IsValid())
}
