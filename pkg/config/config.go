package config

// Config is the umbrella configuration object returned by Initialize()
// and threaded through the application. Sections are never nil after
// a successful Initialize.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Task lifecycle settings (timeouts, retries, archival age)
	Task *TaskConfig

	// Message bus settings (work queue, event rings, leases)
	Bus *BusConfig

	// Worker pool settings (concurrency, polling, heartbeats)
	Worker *WorkerConfig

	// Reaper settings (stuck-task detection)
	Reaper *ReaperConfig

	// Retention settings (archival sweep)
	Retention *RetentionConfig

	// Database connection and pool settings
	Database *DatabaseConfig

	// Redis connection settings
	Redis *RedisConfig

	// HTTP API settings
	API *APIConfig

	// Synthesis stage settings
	Synthesis *SynthesisConfig

	// Project filesystem settings
	Project *ProjectConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
