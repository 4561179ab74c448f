package config

import "time"

// WorkerConfig contains worker pool configuration.
// These values control how tasks are polled, reserved, and processed.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines per replica/pod.
	// Each worker runs at most one task at a time.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is the base interval for checking the work queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval plus up to PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// HeartbeatInterval is how often a worker extends its queue lease and
	// bumps the task's progress timestamp while executing.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ShutdownGrace is the max time to wait for active tasks during
	// shutdown. Tasks still running after it are abandoned; the reaper
	// or the next startup of this pod reclassifies them.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DefaultWorkerConfig returns the built-in worker defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Concurrency:        1,
		PollInterval:       2 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		HeartbeatInterval:  30 * time.Second,
		ShutdownGrace:      30 * time.Second,
	}
}
