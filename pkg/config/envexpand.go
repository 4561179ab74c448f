package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax to avoid collision with $ in literal values.
//
// This prevents conflicts with literal $ characters commonly found in:
//   - Passwords: p@ss$word
//   - Scraped payload fixtures: price\$[0-9]+
//   - Shell snippets in git hooks: $PATH
//
// Examples:
//   - {{.DB_PASSWORD}} → value of DB_PASSWORD environment variable
//   - {{.REDIS_HOST}}:{{.REDIS_PORT}} → hostname:port with both expanded
//
// Missing variables expand to empty string (unless template is malformed).
// Validation should catch required fields that are empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// If template parsing fails, return original data so the YAML
		// parser can handle the content (or fail with a clearer message).
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values containing =
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
