package config

import "time"

// ReaperConfig controls the background monitor that detects stuck tasks
// and enforces the active-task invariant over time.
type ReaperConfig struct {
	// Enabled toggles the periodic stuck-task scan. Manual reset and
	// archive remain available when disabled.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often the stuck-task scan runs.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultReaperConfig returns the built-in reaper defaults.
func DefaultReaperConfig() *ReaperConfig {
	return &ReaperConfig{
		Enabled:       true,
		CheckInterval: 1 * time.Minute,
	}
}
