package config

import "fmt"

// validate performs comprehensive validation on loaded configuration.
// Sections are assumed non-nil (the loader guarantees it).
func validate(cfg *Config) error {
	if err := validateTask(cfg.Task); err != nil {
		return err
	}
	if err := validateBus(cfg.Bus); err != nil {
		return err
	}
	if err := validateWorker(cfg.Worker); err != nil {
		return err
	}
	if cfg.Reaper.CheckInterval <= 0 {
		return NewFieldError("reaper", "check_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.Retention.CheckInterval <= 0 {
		return NewFieldError("retention", "check_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if err := validateStorage(cfg.Database, cfg.Redis); err != nil {
		return err
	}
	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return NewFieldError("api", "port", fmt.Errorf("%w: %d out of range", ErrInvalidValue, cfg.API.Port))
	}
	if !ValidSynthesisMode(cfg.Synthesis.DefaultMode) {
		return NewFieldError("synthesis", "default_mode", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Synthesis.DefaultMode))
	}
	if cfg.Project.Root == "" {
		return NewFieldError("project", "root", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	return nil
}

func validateTask(t *TaskConfig) error {
	if t.HandlerTimeout <= 0 {
		return NewFieldError("task", "handler_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.CancelDeadline <= 0 {
		return NewFieldError("task", "cancel_deadline", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.StuckThreshold <= 0 {
		return NewFieldError("task", "stuck_threshold", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.ArchiveRetention <= 0 {
		return NewFieldError("task", "archive_retention", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.MaxConcurrentItemsDefault < 1 {
		return NewFieldError("task", "max_concurrent_items_default", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if t.ItemRetryLimit < 0 {
		return NewFieldError("task", "item_retry_limit", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func validateBus(b *BusConfig) error {
	if b.QueueName == "" {
		return NewFieldError("bus", "queue_name", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if b.ConsumerGroup == "" {
		return NewFieldError("bus", "consumer_group", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if b.EventRingSize < 1 {
		return NewFieldError("bus", "event_ring_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.VisibilityTimeout <= 0 {
		return NewFieldError("bus", "visibility_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateWorker(w *WorkerConfig) error {
	if w.Concurrency < 1 {
		return NewFieldError("worker", "concurrency", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if w.PollInterval <= 0 {
		return NewFieldError("worker", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if w.PollIntervalJitter < 0 {
		return NewFieldError("worker", "poll_interval_jitter", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if w.HeartbeatInterval <= 0 {
		return NewFieldError("worker", "heartbeat_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateStorage(db *DatabaseConfig, r *RedisConfig) error {
	if db.Host == "" {
		return NewFieldError("database", "host", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if db.Port < 1 || db.Port > 65535 {
		return NewFieldError("database", "port", fmt.Errorf("%w: %d out of range", ErrInvalidValue, db.Port))
	}
	if db.Database == "" {
		return NewFieldError("database", "database", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	if db.MaxOpenConns < 1 {
		return NewFieldError("database", "max_open_conns", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.Addr == "" {
		return NewFieldError("redis", "addr", fmt.Errorf("%w: must not be empty", ErrInvalidValue))
	}
	return nil
}
