package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestRecordResultHandler_Validation(t *testing.T) {
	// Only parameter validation is covered here (returns 400 before any
	// store access). Happy-path runs against a real database in the
	// integration suite.
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing virtual_content_id",
			body:   `{"completion_percentage": 0.5}`,
			errMsg: "virtual_content_id is required",
		},
		{
			name:   "completion above 1",
			body:   `{"virtual_content_id": "vc-1", "completion_percentage": 1.5}`,
			errMsg: "completion_percentage must be within [0,1]",
		},
		{
			name:   "negative completion",
			body:   `{"virtual_content_id": "vc-1", "completion_percentage": -0.1}`,
			errMsg: "completion_percentage must be within [0,1]",
		},
		{
			name:   "score above 100",
			body:   `{"virtual_content_id": "vc-1", "completion_percentage": 1, "score": 250}`,
			errMsg: "score must be within [0,100]",
		},
		{
			name:   "malformed body",
			body:   `{"completion_percentage": `,
			errMsg: "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/content/results", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.recordResultHandler(c)
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
