package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
		"tauri://localhost", // Allow Tauri desktop app
	})
	v.SetDefault("server.log_theme", "everforest")

	// Queue defaults
	v.SetDefault("queue.max", 64)

	// Pool defaults
	v.SetDefault("pool.job_timeout_seconds", 0) // No watchdog unless configured
	v.SetDefault("pool.stop_timeout_seconds", 30)

	// Worker defaults
	v.SetDefault("worker.backend", "sim")
	v.SetDefault("worker.step_delay_ms", 0)
	v.SetDefault("worker.models_root", "models")

	// Mode and workflow catalogs
	v.SetDefault("modes.path", "conf/modes.yml")
	v.SetDefault("workflows.path", "conf/workflows.yml")

	// Upload store defaults: 5 minute TTL, 30s sweep
	v.SetDefault("fileref.ttl_seconds", 300)
	v.SetDefault("fileref.sweep_seconds", 30)

	// Dream defaults
	v.SetDefault("dream.interval_seconds", 5)
	v.SetDefault("dream.keep", 200)

	// Telemetry defaults: forwarding disabled until an endpoint is set
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.timeout_seconds", 5)

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}
