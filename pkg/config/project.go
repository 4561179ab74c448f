package config

// ProjectConfig holds filesystem settings for the knowledge base tree.
type ProjectConfig struct {
	// Root is the base directory for resolving relative artifact paths.
	// Item records store paths relative to it.
	Root string `yaml:"root"`
}

// DefaultProjectConfig returns the built-in project defaults.
func DefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Root: ".",
	}
}
