package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestListTasksHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{
			name:   "invalid status",
			query:  "status=bogus",
			errMsg: "invalid status: bogus",
		},
		{
			name:   "invalid task type",
			query:  "task_type=reticulate",
			errMsg: "invalid task_type: reticulate",
		},
		{
			name:   "limit too large",
			query:  "limit=10000",
			errMsg: "limit must be within [1,500]",
		},
		{
			name:   "limit not a number",
			query:  "limit=many",
			errMsg: "limit must be within [1,500]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/tasks?"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.listTasksHandler(c)
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
