package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        store.NewValidationError("name", "missing field"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "missing field",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", store.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "pgx no rows maps to 404",
			err:        pgx.ErrNoRows,
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", store.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectMsg:  "resource already exists",
		},
		{
			name:       "not published maps to 409",
			err:        store.ErrNotPublished,
			expectCode: http.StatusConflict,
			expectMsg:  "not published",
		},
		{
			name:       "module not ready maps to 409",
			err:        fmt.Errorf("wrapped: %w", store.ErrModuleNotReady),
			expectCode: http.StatusConflict,
			expectMsg:  "no published topics",
		},
		{
			name:       "budget exceeded maps to 402",
			err:        fmt.Errorf("wrapped: %w", budget.ErrBudgetExceeded),
			expectCode: http.StatusPaymentRequired,
			expectMsg:  "ai budget exceeded",
		},
		{
			name:       "no tasks available maps to 404",
			err:        queue.ErrNoTasksAvailable,
			expectCode: http.StatusNotFound,
			expectMsg:  "no such task",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, "validation"},
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusPaymentRequired, "budget-denied"},
		{http.StatusForbidden, "permission-denied"},
		{http.StatusNotFound, "not-found"},
		{http.StatusConflict, "duplicate-key"},
		{http.StatusServiceUnavailable, "unavailable"},
		{http.StatusInternalServerError, "internal"},
		{http.StatusTeapot, "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorCode(tt.status), "status %d", tt.status)
	}
}

func TestErrorHandler_Envelope(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = errorHandler
	e.GET("/missing", func(c *echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	})
	e.GET("/boom", func(c *echo.Context) error {
		return fmt.Errorf("database exploded")
	})

	t.Run("http error is enveloped with code and message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		require.NotNil(t, body.Error)
		assert.Equal(t, "not-found", body.Error.Code)
		assert.Equal(t, "plan not found", body.Error.Message)
	})

	t.Run("plain error never leaks its message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		require.NotNil(t, body.Error)
		assert.Equal(t, "internal", body.Error.Code)
		assert.NotContains(t, body.Error.Message, "exploded")
	})
}
