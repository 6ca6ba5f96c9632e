package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// TaskRetentionDays is how many days to keep completed and cancelled
	// generation tasks before deleting them.
	TaskRetentionDays int `yaml:"task_retention_days"`

	// FailedTaskRetentionDays is how many days to keep failed tasks.
	// Kept longer than successes so operators can inspect errors.
	FailedTaskRetentionDays int `yaml:"failed_task_retention_days"`

	// AlertRetentionDays is how many days to keep dismissed budget alerts.
	AlertRetentionDays int `yaml:"alert_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskRetentionDays:       30,
		FailedTaskRetentionDays: 90,
		AlertRetentionDays:      180,
		CleanupInterval:         12 * time.Hour,
	}
}
