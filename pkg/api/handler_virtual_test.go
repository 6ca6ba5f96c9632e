package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func postJSON(t *testing.T, e *echo.Echo, path, body string) *echo.Context {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestProgressiveGenerationHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing plan_id",
			body:   `{}`,
			errMsg: "plan_id is required",
		},
		{
			name:   "malformed body",
			body:   `{"plan_id": `,
			errMsg: "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := postJSON(t, echo.New(), "/api/v1/virtual/progressive-generation", tt.body)

			err := s.progressiveGenerationHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}
}

func TestTriggerNextTopicHandler_Validation(t *testing.T) {
	s := &Server{}

	c := postJSON(t, echo.New(), "/api/v1/virtual/trigger-next-topic", `{}`)

	err := s.triggerNextTopicHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok, "expected echo.HTTPError") {
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, "virtual_module_id is required")
		}
	}
}
