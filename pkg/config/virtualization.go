package config

import "time"

// VirtualizationConfig controls the progressive generation policy.
type VirtualizationConfig struct {
	// DefaultInitialBatchSize is how many topics a bootstrap generate task
	// produces when the module does not override it.
	DefaultInitialBatchSize int `yaml:"default_initial_batch_size"`

	// DefaultGenerationThreshold is the module-progress fraction at which
	// the next module becomes eligible, absent a module override.
	DefaultGenerationThreshold float64 `yaml:"default_generation_threshold"`

	// GenerationWindowSize caps how many of a student's virtual modules may
	// sit in the not-yet-consumed window (ready or generating, unconsumed).
	GenerationWindowSize int `yaml:"generation_window_size"`

	// SchedulerSweepInterval is how often the scheduler re-evaluates
	// progress thresholds missed by event-driven triggers.
	SchedulerSweepInterval time.Duration `yaml:"scheduler_sweep_interval"`
}

// DefaultVirtualizationConfig returns the built-in progression defaults.
func DefaultVirtualizationConfig() *VirtualizationConfig {
	return &VirtualizationConfig{
		DefaultInitialBatchSize:    1,
		DefaultGenerationThreshold: 0.8,
		GenerationWindowSize:       2,
		SchedulerSweepInterval:     5 * time.Minute,
	}
}
