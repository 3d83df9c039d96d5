package config

import (
	"fmt"
	"time"
)

// Config represents the core yume daemon configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Modes     ModesConfig     `mapstructure:"modes"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	FileRef   FileRefConfig   `mapstructure:"fileref"`
	Dream     DreamConfig     `mapstructure:"dream"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the yume web server
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           *int     `mapstructure:"port"` // nil = default 4200, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"` // Color theme: gruvbox, everforest
}

// Server port constants
const (
	DefaultServerPort = 4200
	DefaultHost       = "0.0.0.0"
)

// QueueConfig bounds the pending job queue
type QueueConfig struct {
	Max int `mapstructure:"max"` // Maximum queued jobs before submissions are rejected (default: 64)
}

// PoolConfig configures the render worker pool
type PoolConfig struct {
	JobTimeoutSeconds  int `mapstructure:"job_timeout_seconds"`  // Per-job watchdog, 0 = no timeout
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"` // Graceful drain ceiling during shutdown (default: 30)
}

// WorkerConfig configures the render backend
type WorkerConfig struct {
	Backend     string `mapstructure:"backend"`       // Backend implementation name (default: "sim")
	StepDelayMS int    `mapstructure:"step_delay_ms"` // Simulated per-step pacing in milliseconds
	ModelsRoot  string `mapstructure:"models_root"`   // Root directory scanned for model weights
}

// ModesConfig locates the mode catalog file
type ModesConfig struct {
	Path string `mapstructure:"path"` // Path to modes.yml (default: conf/modes.yml)
}

// WorkflowsConfig locates the workflow catalog file
type WorkflowsConfig struct {
	Path string `mapstructure:"path"` // Path to workflows.yml (default: conf/workflows.yml)
}

// FileRefConfig governs the temporary upload store
type FileRefConfig struct {
	TTLSeconds   int `mapstructure:"ttl_seconds"`   // Upload lifetime before expiry (default: 300)
	SweepSeconds int `mapstructure:"sweep_seconds"` // Background sweep interval (default: 30)
}

// DreamConfig configures the background dream controller
type DreamConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"` // Pause between dream iterations (default: 5)
	Keep            int `mapstructure:"keep"`             // Candidate ring capacity (default: 200)
}

// TelemetryConfig configures the OTLP forwarding proxy
type TelemetryConfig struct {
	Endpoint       string `mapstructure:"endpoint"` // OTLP/HTTP collector URL, empty disables forwarding
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LogConfig configures structured logging output
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`  // Emit JSON log lines instead of the console encoder
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// File permission constants
const (
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0750
)

// Addr returns the host:port listen address, substituting defaults for
// unset values.
func (c ServerConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := DefaultServerPort
	if c.Port != nil && *c.Port > 0 {
		port = *c.Port
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// JobTimeout returns the per-job watchdog duration, 0 when disabled.
func (c PoolConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// StopTimeout returns the graceful drain ceiling for shutdown.
func (c PoolConfig) StopTimeout() time.Duration {
	if c.StopTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// StepDelay returns the simulated per-step pacing duration.
func (c WorkerConfig) StepDelay() time.Duration {
	return time.Duration(c.StepDelayMS) * time.Millisecond
}

// TTL returns the upload lifetime before expiry.
func (c FileRefConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Sweep returns the background sweep interval.
func (c FileRefConfig) Sweep() time.Duration {
	if c.SweepSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SweepSeconds) * time.Second
}

// Interval returns the pause between dream iterations.
func (c DreamConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout returns the collector POST timeout.
func (c TelemetryConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
