package config

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AdminToken guards the /admin routes (bearer token). When empty the
	// admin routes are disabled entirely rather than left open.
	AdminToken string `yaml:"admin_token"`

	// AllowedWSOrigins lists additional origins accepted for WebSocket
	// upgrades beyond same-host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DefaultAPIConfig returns the built-in API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Host: "0.0.0.0",
		Port: 8000,
	}
}
