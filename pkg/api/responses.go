package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/scheduler"
)

// Every endpoint returns the same envelope: {success, data?, error?}.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func respond(c *echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

func respondError(c *echo.Context, status int, body *errorBody) error {
	return c.JSON(status, envelope{Success: false, Error: body})
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one component entry in HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// VirtualizeResponse reports the outcome of a progressive-generation pass.
type VirtualizeResponse struct {
	Modules []models.VirtualModule `json:"virtual_modules"`
	TaskIDs []string               `json:"task_ids,omitempty"`
}

// TriggerNextTopicResponse reports an unlock attempt. UnlockedTopic is nil
// when the next topic had to be generated first; Generating is true in that
// case.
type TriggerNextTopicResponse struct {
	UnlockedTopic *models.VirtualTopic `json:"unlocked_topic,omitempty"`
	Generating    bool                 `json:"generating"`
	Outcome       *scheduler.Outcome   `json:"schedule_outcome,omitempty"`
}

// VirtualModuleResponse is a virtual module with its topics and each topic's
// adapted content inventory.
type VirtualModuleResponse struct {
	models.VirtualModule
	Topics []models.VirtualTopicDetail `json:"topics"`
}

// RecordResultResponse returns the stored result together with the
// recomputed progress snapshot.
type RecordResultResponse struct {
	Result        *models.ContentResult `json:"result"`
	VirtualTopic  *models.VirtualTopic  `json:"virtual_topic"`
	VirtualModule *models.VirtualModule `json:"virtual_module"`
}

// RegisterCallResponse is the pre-flight admission body: the opened ledger
// entry plus the admission decision.
type RegisterCallResponse struct {
	Call     *models.AICall   `json:"call"`
	Decision *budget.Decision `json:"decision"`
}
