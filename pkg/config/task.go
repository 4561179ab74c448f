package config

import "time"

// TaskConfig controls task execution limits and lifecycle behavior.
type TaskConfig struct {
	// HandlerTimeout is the maximum duration of a single stage handler
	// invocation. Expiry fails the task with error kind "timeout".
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// CancelDeadline is the maximum time a worker may take to honor a
	// cancellation request once observed.
	CancelDeadline time.Duration `yaml:"cancel_deadline"`

	// StuckThreshold is how long a non-terminal task can go without a
	// progress update before the reaper declares it stuck.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`

	// ArchiveRetention is the age at which terminal tasks are flagged
	// archived by the retention sweep. Logs are never touched.
	ArchiveRetention time.Duration `yaml:"archive_retention"`

	// MaxConcurrentItemsDefault is the per-stage item concurrency used
	// when preferences do not set max_concurrent_items.
	MaxConcurrentItemsDefault int `yaml:"max_concurrent_items_default"`

	// ItemRetryLimit is the number of transient retries a stage grants
	// each item before counting it as an error.
	ItemRetryLimit int `yaml:"item_retry_limit"`
}

// DefaultTaskConfig returns the built-in task defaults.
func DefaultTaskConfig() *TaskConfig {
	return &TaskConfig{
		HandlerTimeout:            2 * time.Hour,
		CancelDeadline:            30 * time.Second,
		StuckThreshold:            10 * time.Minute,
		ArchiveRetention:          720 * time.Hour,
		MaxConcurrentItemsDefault: 1,
		ItemRetryLimit:            2,
	}
}
