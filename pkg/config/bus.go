package config

import "time"

// BusConfig controls the Redis-backed message bus: the durable work
// queue stream, per-task event rings, and lease behavior.
type BusConfig struct {
	// QueueName is the Redis stream key for the durable work queue.
	QueueName string `yaml:"queue_name"`

	// ConsumerGroup is the stream consumer group workers read from.
	ConsumerGroup string `yaml:"consumer_group"`

	// EventRingSize is the per-task capacity of the recent-events ring.
	// Older events fall off; clients needing completeness use the logs API.
	EventRingSize int `yaml:"event_ring_size"`

	// VisibilityTimeout is how long a reserved delivery may sit without a
	// lease extension before the reaper treats the worker as lost.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// DefaultBusConfig returns the built-in bus defaults.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		QueueName:         "curio:queue:tasks",
		ConsumerGroup:     "curio-workers",
		EventRingSize:     500,
		VisibilityTimeout: 5 * time.Minute,
	}
}
