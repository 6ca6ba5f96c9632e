package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how generation tasks are polled, leased, and retried.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and processes tasks.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking pending tasks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// TaskTimeout is the maximum time a single task may execute.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active tasks
	// to complete during shutdown. Should match TaskTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// LeaseDuration is how long a claimed task stays owned by a worker
	// without a heartbeat before the sweeper may reclaim it.
	LeaseDuration time.Duration `yaml:"lease_duration"`

	// HeartbeatInterval is how often a busy worker extends its lease.
	// Must be comfortably below LeaseDuration.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SweepInterval is how often to scan for expired leases.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MaxAttempts is the default attempt ceiling for new tasks.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoffBase and RetryBackoffCap bound the exponential retry
	// delay: min(cap, base * 2^(attempt-1)), then jittered.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffCap  time.Duration `yaml:"retry_backoff_cap"`

	// RetryJitterFraction spreads retry delays by ±fraction to avoid
	// thundering herds. Range [0,1).
	RetryJitterFraction float64 `yaml:"retry_jitter_fraction"`

	// DefaultPriority is assigned to tasks enqueued without an explicit
	// priority. Lower value dequeues first.
	DefaultPriority int `yaml:"default_priority"`

	// SyncPriorityBoost is added to the default priority for content-sync
	// tasks so fresh, student-initiated generation outruns sync catch-up.
	SyncPriorityBoost int `yaml:"sync_priority_boost"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		TaskTimeout:             10 * time.Minute,
		GracefulShutdownTimeout: 10 * time.Minute,
		LeaseDuration:           5 * time.Minute,
		HeartbeatInterval:       90 * time.Second,
		SweepInterval:           1 * time.Minute,
		MaxAttempts:             3,
		RetryBackoffBase:        30 * time.Second,
		RetryBackoffCap:         30 * time.Minute,
		RetryJitterFraction:     0.2,
		DefaultPriority:         5,
		SyncPriorityBoost:       2,
	}
}
