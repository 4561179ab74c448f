package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Task:      DefaultTaskConfig(),
		Bus:       DefaultBusConfig(),
		Worker:    DefaultWorkerConfig(),
		Reaper:    DefaultReaperConfig(),
		Retention: DefaultRetentionConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		API:       DefaultAPIConfig(),
		Synthesis: DefaultSynthesisConfig(),
		Project:   DefaultProjectConfig(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string // empty means valid
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "zero handler timeout",
			mutate: func(c *Config) { c.Task.HandlerTimeout = 0 },
			errMsg: "task.handler_timeout",
		},
		{
			name:   "negative retry limit",
			mutate: func(c *Config) { c.Task.ItemRetryLimit = -1 },
			errMsg: "task.item_retry_limit",
		},
		{
			name:   "empty queue name",
			mutate: func(c *Config) { c.Bus.QueueName = "" },
			errMsg: "bus.queue_name",
		},
		{
			name:   "zero ring size",
			mutate: func(c *Config) { c.Bus.EventRingSize = 0 },
			errMsg: "bus.event_ring_size",
		},
		{
			name:   "zero worker concurrency",
			mutate: func(c *Config) { c.Worker.Concurrency = 0 },
			errMsg: "worker.concurrency",
		},
		{
			name:   "api port out of range",
			mutate: func(c *Config) { c.API.Port = 70000 },
			errMsg: "api.port",
		},
		{
			name:   "empty redis addr",
			mutate: func(c *Config) { c.Redis.Addr = "" },
			errMsg: "redis.addr",
		},
		{
			name:   "unknown synthesis mode",
			mutate: func(c *Config) { c.Synthesis.DefaultMode = "haiku" },
			errMsg: "synthesis.default_mode",
		},
		{
			name:   "empty project root",
			mutate: func(c *Config) { c.Project.Root = "" },
			errMsg: "project.root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidValue)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidSynthesisMode(t *testing.T) {
	assert.True(t, ValidSynthesisMode(SynthesisComprehensive))
	assert.True(t, ValidSynthesisMode(SynthesisTechnical))
	assert.True(t, ValidSynthesisMode(SynthesisPractical))
	assert.False(t, ValidSynthesisMode(""))
	assert.False(t, ValidSynthesisMode("Comprehensive"))
}
