package config

import (
	"fmt"
	"os"
	"sort"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := v.validateAuth(); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := v.validateVirtualization(); err != nil {
		return fmt.Errorf("virtualization validation failed: %w", err)
	}

	if err := v.validateBudget(); err != nil {
		return fmt.Errorf("budget validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "http", "port", fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	return nil
}

func (v *ConfigValidator) validateAuth() error {
	a := v.cfg.Auth
	if a.JWTSecretEnv == "" {
		return NewValidationError("auth", "jwt", "jwt_secret_env", ErrMissingRequiredField)
	}
	if os.Getenv(a.JWTSecretEnv) == "" {
		return NewValidationError("auth", "jwt", "jwt_secret_env", fmt.Errorf("environment variable %s is not set", a.JWTSecretEnv))
	}
	if a.EncryptionKeyEnv == "" {
		return NewValidationError("auth", "encryption", "encryption_key_env", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "pool", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.LeaseDuration <= 0 {
		return NewValidationError("queue", "lease", "lease_duration", fmt.Errorf("must be positive"))
	}
	if q.HeartbeatInterval <= 0 || q.HeartbeatInterval >= q.LeaseDuration {
		return NewValidationError("queue", "lease", "heartbeat_interval", fmt.Errorf("must be positive and below lease_duration"))
	}
	if q.MaxAttempts < 1 {
		return NewValidationError("queue", "retry", "max_attempts", fmt.Errorf("must be at least 1"))
	}
	if q.RetryBackoffBase <= 0 || q.RetryBackoffCap < q.RetryBackoffBase {
		return NewValidationError("queue", "retry", "retry_backoff_base", fmt.Errorf("base must be positive and no greater than cap"))
	}
	if q.RetryJitterFraction < 0 || q.RetryJitterFraction >= 1 {
		return NewValidationError("queue", "retry", "retry_jitter_fraction", fmt.Errorf("must be in [0,1)"))
	}
	return nil
}

func (v *ConfigValidator) validateVirtualization() error {
	vc := v.cfg.Virtualization
	if vc.DefaultInitialBatchSize < 1 {
		return NewValidationError("virtualization", "policy", "default_initial_batch_size", fmt.Errorf("must be at least 1"))
	}
	if vc.DefaultGenerationThreshold <= 0 || vc.DefaultGenerationThreshold > 1 {
		return NewValidationError("virtualization", "policy", "default_generation_threshold", fmt.Errorf("must be in (0,1]"))
	}
	if vc.GenerationWindowSize < 1 {
		return NewValidationError("virtualization", "policy", "generation_window_size", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateBudget() error {
	b := v.cfg.Budget
	if b.GlobalDailyLimitUSD < 0 || b.UserDailyLimitUSD < 0 {
		return NewValidationError("budget", "limits", "daily_limit", fmt.Errorf("limits must be non-negative"))
	}
	for provider, limit := range b.ProviderLimits {
		if limit < 0 {
			return NewValidationError("budget", "limits", "provider_limits", fmt.Errorf("provider %s: limit must be non-negative", provider))
		}
	}
	if !sort.Float64sAreSorted(b.AlertThresholds) {
		return NewValidationError("budget", "alerts", "alert_thresholds", fmt.Errorf("thresholds must be ascending"))
	}
	for _, t := range b.AlertThresholds {
		if t <= 0 || t > 1 {
			return NewValidationError("budget", "alerts", "alert_thresholds", fmt.Errorf("threshold %v out of range (0,1]", t))
		}
	}
	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		// Validate provider type
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		// Validate model is not empty
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		// Rate limit and timeout sanity
		if provider.RequestsPerMinute < 0 {
			return NewValidationError("llm_provider", name, "requests_per_minute", fmt.Errorf("must be non-negative"))
		}
		if provider.TimeoutSeconds < 0 {
			return NewValidationError("llm_provider", name, "timeout_seconds", fmt.Errorf("must be non-negative"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(d.LLMProvider) {
		return NewValidationError("defaults", "llm", "llm_provider", fmt.Errorf("%w: %s", ErrLLMProviderNotFound, d.LLMProvider))
	}
	// The default provider's API key env must be set; other providers may
	// be selected per call with student-supplied keys, so theirs may not.
	provider, err := v.cfg.LLMProviderRegistry.Get(v.cfg.DefaultLLMProvider())
	if err != nil {
		return err
	}
	if provider.APIKeyEnv != "" && os.Getenv(provider.APIKeyEnv) == "" {
		return NewValidationError("llm_provider", v.cfg.DefaultLLMProvider(), "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
	}
	return nil
}
