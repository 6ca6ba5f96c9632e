package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// mapServiceError translates store/gate/queue errors to HTTP errors.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, store.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, store.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotPublished):
		return echo.NewHTTPError(http.StatusConflict, "topic is not published")
	case errors.Is(err, store.ErrModuleNotReady):
		return echo.NewHTTPError(http.StatusConflict, "module has no published topics")
	case errors.Is(err, budget.ErrBudgetExceeded):
		return echo.NewHTTPError(http.StatusPaymentRequired, "ai budget exceeded")
	case errors.Is(err, queue.ErrNoTasksAvailable):
		return echo.NewHTTPError(http.StatusNotFound, "no such task")
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// errorCode is the machine-readable code for a given HTTP status.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPaymentRequired:
		return "budget-denied"
	case http.StatusForbidden:
		return "permission-denied"
	case http.StatusNotFound:
		return "not-found"
	case http.StatusConflict:
		return "duplicate-key"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return "internal"
}

// errorHandler renders every error through the response envelope.
func errorHandler(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if he.Message != "" {
			message = he.Message
		} else {
			message = http.StatusText(status)
		}
	}

	_ = respondError(c, status, &errorBody{Code: errorCode(status), Message: message})
}
