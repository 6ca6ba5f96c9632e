package generator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/llm"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

func TestIsRetryable(t *testing.T) {
	e := &Executor{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "budget denial is terminal",
			err:  fmt.Errorf("admit: %w", budget.ErrBudgetExceeded),
			want: false,
		},
		{
			name: "deadline is transient",
			err:  context.DeadlineExceeded,
			want: true,
		},
		{
			name: "validation error is terminal",
			err:  store.NewValidationError("kind", "unknown sync kind"),
			want: false,
		},
		{
			name: "provider 5xx is transient",
			err:  &llm.ProviderError{Provider: "google-default", Code: "503", Retryable: true},
			want: true,
		},
		{
			name: "provider auth failure is terminal",
			err:  &llm.ProviderError{Provider: "google-default", Code: "401", Retryable: false},
			want: false,
		},
		{
			name: "missing api key is terminal",
			err:  llm.ErrMissingAPIKey,
			want: false,
		},
		{
			name: "unknown errors default to transient",
			err:  errors.New("connection reset by peer"),
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.isRetryable(tt.err))
		})
	}
}

func TestFailureReasonNeverLeaksDetail(t *testing.T) {
	providerErr := &llm.ProviderError{
		Provider: "google-default",
		Code:     "500",
		Message:  "internal: quota backend panic at shard 7",
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "budget",
			err:  fmt.Errorf("admit: %w", budget.ErrBudgetExceeded),
			want: "generation paused: the AI budget for today is exhausted",
		},
		{
			name: "missing key",
			err:  llm.ErrMissingAPIKey,
			want: "generation failed: no AI provider key is configured",
		},
		{
			name: "timeout",
			err:  context.DeadlineExceeded,
			want: "generation failed: the AI provider did not respond in time",
		},
		{
			name: "provider detail is hidden",
			err:  providerErr,
			want: "generation failed: the content could not be adapted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := failureReason(tt.err)
			assert.Equal(t, tt.want, reason)
			assert.NotContains(t, reason, "shard")
		})
	}
}
