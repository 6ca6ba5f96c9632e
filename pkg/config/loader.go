package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SapiensYAMLConfig represents the complete sapiens.yaml file structure
type SapiensYAMLConfig struct {
	Server         *ServerConfig         `yaml:"server"`
	Auth           *AuthConfig           `yaml:"auth"`
	Queue          *QueueConfig          `yaml:"queue"`
	Virtualization *VirtualizationConfig `yaml:"virtualization"`
	Budget         *BudgetDefaults       `yaml:"budget"`
	Retention      *RetentionConfig      `yaml:"retention"`
	Defaults       *Defaults             `yaml:"defaults"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply default values for unset sections
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"workers", stats.Workers,
		"enforcement", cfg.Budget.Enforcement)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load sapiens.yaml (server, auth, queue, virtualization, budget, retention)
	sapiensConfig, err := loader.loadSapiensYAML()
	if err != nil {
		return nil, NewLoadError("sapiens.yaml", err)
	}

	// 2. Load llm-providers.yaml (optional; built-ins cover the common case)
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined providers (user overrides built-in)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	// 5. Build registry
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	// 6. Resolve sections (merge user YAML onto built-in defaults so unset
	// fields keep their defaults)
	serverConfig, err := mergeSection(DefaultServerConfig(), sapiensConfig.Server, "server")
	if err != nil {
		return nil, err
	}
	authConfig, err := mergeSection(DefaultAuthConfig(), sapiensConfig.Auth, "auth")
	if err != nil {
		return nil, err
	}
	queueConfig, err := mergeSection(DefaultQueueConfig(), sapiensConfig.Queue, "queue")
	if err != nil {
		return nil, err
	}
	virtConfig, err := mergeSection(DefaultVirtualizationConfig(), sapiensConfig.Virtualization, "virtualization")
	if err != nil {
		return nil, err
	}
	budgetConfig, err := mergeSection(DefaultBudgetDefaults(), sapiensConfig.Budget, "budget")
	if err != nil {
		return nil, err
	}
	retentionConfig, err := mergeSection(DefaultRetentionConfig(), sapiensConfig.Retention, "retention")
	if err != nil {
		return nil, err
	}

	defaults := sapiensConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.LLMProvider == "" {
		defaults.LLMProvider = builtin.DefaultLLMProvider
	}

	return &Config{
		configDir:           configDir,
		Server:              serverConfig,
		Auth:                authConfig,
		Queue:               queueConfig,
		Virtualization:      virtConfig,
		Budget:              budgetConfig,
		Retention:           retentionConfig,
		Defaults:            defaults,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// mergeSection overlays user-provided YAML onto built-in defaults.
// Non-zero user values override; unset values keep the default.
func mergeSection[T any](defaults *T, user *T, name string) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return defaults, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadSapiensYAML() (*SapiensYAMLConfig, error) {
	var config SapiensYAMLConfig

	if err := l.loadYAML("sapiens.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		// The providers file is optional: built-in providers are enough
		// for deployments that only set env vars.
		if errors.Is(err, ErrConfigNotFound) {
			return config.LLMProviders, nil
		}
		return nil, err
	}

	return config.LLMProviders, nil
}
