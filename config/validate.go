package config

import "github.com/teranos/yume/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 4200)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// Queue bound: 0 = unbounded is not supported, negative = invalid
	if c.Queue.Max < 0 {
		return errors.Newf("queue.max must be >= 0, got %d", c.Queue.Max)
	}

	// Job timeout: 0 = no watchdog, negative = invalid
	if c.Pool.JobTimeoutSeconds < 0 {
		return errors.Newf("pool.job_timeout_seconds must be >= 0, got %d", c.Pool.JobTimeoutSeconds)
	}
	if c.Pool.StopTimeoutSeconds < 0 {
		return errors.Newf("pool.stop_timeout_seconds must be >= 0, got %d", c.Pool.StopTimeoutSeconds)
	}

	// Step delay: 0 = run flat out, negative = invalid
	if c.Worker.StepDelayMS < 0 {
		return errors.Newf("worker.step_delay_ms must be >= 0, got %d", c.Worker.StepDelayMS)
	}

	// Upload store: 0 = use defaults (per struct docs), negative = invalid
	if c.FileRef.TTLSeconds < 0 {
		return errors.Newf("fileref.ttl_seconds must be >= 0, got %d", c.FileRef.TTLSeconds)
	}
	if c.FileRef.SweepSeconds < 0 {
		return errors.Newf("fileref.sweep_seconds must be >= 0, got %d", c.FileRef.SweepSeconds)
	}

	// Dream: 0 = use defaults, negative = invalid
	if c.Dream.IntervalSeconds < 0 {
		return errors.Newf("dream.interval_seconds must be >= 0, got %d", c.Dream.IntervalSeconds)
	}
	if c.Dream.Keep < 0 {
		return errors.Newf("dream.keep must be >= 0, got %d", c.Dream.Keep)
	}

	if c.Telemetry.TimeoutSeconds < 0 {
		return errors.Newf("telemetry.timeout_seconds must be >= 0, got %d", c.Telemetry.TimeoutSeconds)
	}

	return nil
}
