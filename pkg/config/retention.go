package config

import "time"

// RetentionConfig controls the archival sweep for old terminal tasks.
// The archival age itself lives in TaskConfig.ArchiveRetention.
type RetentionConfig struct {
	// Enabled toggles the periodic sweep. The admin archive endpoint
	// works regardless.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often the sweep runs.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Enabled:       true,
		CheckInterval: 1 * time.Hour,
	}
}
