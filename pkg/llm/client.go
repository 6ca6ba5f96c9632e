// Package llm invokes model providers for content adaptation. Providers are
// configured declaratively (see pkg/config); the registry routes calls,
// applies client-side rate limits, and records instrumentation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
)

// Client generates completions against one provider.
type Client interface {
	// Generate sends a prompt and blocks until the full completion is
	// available. Generation output is consumed as one JSON document, so
	// streaming buys nothing here.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Close releases any underlying connections.
	Close() error
}

// Request is one generation call.
type Request struct {
	// System is the system instruction, empty for none.
	System string

	// Prompt is the user-role content.
	Prompt string

	// APIKey overrides the provider's platform key when a student supplied
	// their own. Empty means use the key from the provider's APIKeyEnv.
	APIKey string

	// ForceJSON asks the provider for a JSON-only response where supported.
	ForceJSON bool
}

// Usage reports provider-accounted token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a completed generation.
type Response struct {
	Text    string
	Usage   Usage
	Latency time.Duration
}

// ErrMissingAPIKey indicates no usable key was found for a provider: the
// student supplied none and the platform env var is unset.
var ErrMissingAPIKey = errors.New("no api key available for provider")

// ProviderError wraps a provider failure with retry guidance.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Code, e.Message)
}

// IsRetryable classifies an error for the task queue. Rate limits, server
// errors and timeouts are transient; bad requests and auth failures are not.
// Unrecognized errors default to retryable since network blips dominate.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return true
}

// EstimateTokens approximates the token count of a prompt for budget
// estimation before the provider reports real usage.
func EstimateTokens(text string) int {
	return len(text)/4 + 1
}

// retryableStatus classifies HTTP status codes shared by the REST providers.
func retryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// callTimeout resolves the per-call timeout for a provider config.
func callTimeout(pc *config.LLMProviderConfig) time.Duration {
	if pc.TimeoutSeconds > 0 {
		return time.Duration(pc.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}
