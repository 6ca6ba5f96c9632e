package config

// Config is the umbrella configuration object that encapsulates
// all sections, defaults, and the LLM provider registry.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// HTTP server settings
	Server *ServerConfig

	// Secret env var names (JWT signing, profile key sealing)
	Auth *AuthConfig

	// Queue and worker pool configuration
	Queue *QueueConfig

	// Progressive generation policy
	Virtualization *VirtualizationConfig

	// Budget policy bootstrap and gate knobs
	Budget *BudgetDefaults

	// Data retention and cleanup
	Retention *RetentionConfig

	// System-wide default selections
	Defaults *Defaults

	// LLM provider registry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	LLMProviders int
	Workers      int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	if c.Queue != nil {
		s.Workers = c.Queue.WorkerCount
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// DefaultLLMProvider returns the registry name of the provider used when
// nothing more specific is requested.
func (c *Config) DefaultLLMProvider() string {
	if c.Defaults != nil && c.Defaults.LLMProvider != "" {
		return c.Defaults.LLMProvider
	}
	return GetBuiltinConfig().DefaultLLMProvider
}
