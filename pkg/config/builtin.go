package config

import (
	"sync"
)

// BuiltinConfig holds all built-in configuration data.
// This provides default LLM providers and the default provider selection,
// so a deployment works with nothing but env vars set.
type BuiltinConfig struct {
	LLMProviders       map[string]LLMProviderConfig
	DefaultLLMProvider string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		LLMProviders:       initBuiltinLLMProviders(),
		DefaultLLMProvider: "google-default",
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"google-default": {
			Type:              LLMProviderTypeGoogle,
			Model:             "gemini-2.5-flash",
			APIKeyEnv:         "GOOGLE_API_KEY",
			MaxOutputTokens:   8192,
			RequestsPerMinute: 60,
			TimeoutSeconds:    60,
		},
		"google-pro": {
			Type:              LLMProviderTypeGoogle,
			Model:             "gemini-2.5-pro",
			APIKeyEnv:         "GOOGLE_API_KEY",
			MaxOutputTokens:   8192,
			RequestsPerMinute: 30,
			TimeoutSeconds:    90,
		},
		"openai-default": {
			Type:              LLMProviderTypeOpenAI,
			Model:             "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			MaxOutputTokens:   8192,
			RequestsPerMinute: 60,
			TimeoutSeconds:    60,
		},
		"anthropic-default": {
			Type:              LLMProviderTypeAnthropic,
			Model:             "claude-3-5-sonnet",
			APIKeyEnv:         "ANTHROPIC_API_KEY",
			MaxOutputTokens:   8192,
			RequestsPerMinute: 60,
			TimeoutSeconds:    60,
		},
	}
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
