package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Create isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)

	// Load config from isolated viper
	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	// Check default values are applied
	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected default host %q, got %q", DefaultHost, cfg.Server.Host)
	}

	if cfg.Server.Port == nil || *cfg.Server.Port != DefaultServerPort {
		t.Errorf("expected default port %d, got %v", DefaultServerPort, cfg.Server.Port)
	}

	if cfg.Queue.Max != 64 {
		t.Errorf("expected default queue.max 64, got %d", cfg.Queue.Max)
	}

	if cfg.FileRef.TTLSeconds != 300 {
		t.Errorf("expected default fileref.ttl_seconds 300, got %d", cfg.FileRef.TTLSeconds)
	}

	if cfg.FileRef.SweepSeconds != 30 {
		t.Errorf("expected default fileref.sweep_seconds 30, got %d", cfg.FileRef.SweepSeconds)
	}

	if cfg.Dream.Keep != 200 {
		t.Errorf("expected default dream.keep 200, got %d", cfg.Dream.Keep)
	}

	if cfg.Worker.Backend != "sim" {
		t.Errorf("expected default worker.backend 'sim', got %q", cfg.Worker.Backend)
	}

	if cfg.Telemetry.Endpoint != "" {
		t.Errorf("expected telemetry disabled by default, got %q", cfg.Telemetry.Endpoint)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "yume.toml")

	content := `
[server]
port = 9999

[queue]
max = 8

[dream]
interval_seconds = 1
keep = 10
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Server.Port == nil || *cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %v", cfg.Server.Port)
	}
	if cfg.Queue.Max != 8 {
		t.Errorf("expected queue.max 8, got %d", cfg.Queue.Max)
	}
	if cfg.Dream.Keep != 10 {
		t.Errorf("expected dream.keep 10, got %d", cfg.Dream.Keep)
	}

	// Unset keys still fall back to defaults
	if cfg.FileRef.TTLSeconds != 300 {
		t.Errorf("expected default fileref.ttl_seconds 300, got %d", cfg.FileRef.TTLSeconds)
	}
}

func TestValidate_ZeroValues(t *testing.T) {
	zero := 0
	negative := -1

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			config:  Config{},
			wantErr: false,
		},
		{
			name: "zero port is invalid (omit for default)",
			config: Config{
				Server: ServerConfig{Port: &zero},
			},
			wantErr: true,
		},
		{
			name: "negative port is invalid",
			config: Config{
				Server: ServerConfig{Port: &negative},
			},
			wantErr: true,
		},
		{
			name: "zero job timeout is valid (disabled)",
			config: Config{
				Pool: PoolConfig{JobTimeoutSeconds: 0},
			},
			wantErr: false,
		},
		{
			name: "negative job timeout is invalid",
			config: Config{
				Pool: PoolConfig{JobTimeoutSeconds: -1},
			},
			wantErr: true,
		},
		{
			name: "negative queue max is invalid",
			config: Config{
				Queue: QueueConfig{Max: -1},
			},
			wantErr: true,
		},
		{
			name: "zero fileref ttl is valid (defaulted)",
			config: Config{
				FileRef: FileRefConfig{TTLSeconds: 0},
			},
			wantErr: false,
		},
		{
			name: "negative dream keep is invalid",
			config: Config{
				Dream: DreamConfig{Keep: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	port := 8080

	tests := []struct {
		name   string
		config ServerConfig
		want   string
	}{
		{"defaults", ServerConfig{}, "0.0.0.0:4200"},
		{"custom port", ServerConfig{Port: &port}, "0.0.0.0:8080"},
		{"custom host", ServerConfig{Host: "127.0.0.1"}, "127.0.0.1:4200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.Addr(); got != tt.want {
				t.Errorf("Addr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{
		FileRef: FileRefConfig{TTLSeconds: 60, SweepSeconds: 5},
		Dream:   DreamConfig{IntervalSeconds: 2},
	}

	if got := cfg.FileRef.TTL().Seconds(); got != 60 {
		t.Errorf("TTL() = %vs, want 60s", got)
	}
	if got := cfg.FileRef.Sweep().Seconds(); got != 5 {
		t.Errorf("Sweep() = %vs, want 5s", got)
	}
	if got := cfg.Dream.Interval().Seconds(); got != 2 {
		t.Errorf("Interval() = %vs, want 2s", got)
	}

	// Zero values fall back to documented defaults
	var empty Config
	if got := empty.FileRef.TTL().Seconds(); got != 300 {
		t.Errorf("zero TTL() = %vs, want 300s", got)
	}
	if got := empty.Dream.Interval().Seconds(); got != 5 {
		t.Errorf("zero Interval() = %vs, want 5s", got)
	}
}

func TestSources_Cascade(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	sources := Sources()
	if len(sources) < 2 {
		t.Fatalf("expected at least system and user entries, got %d", len(sources))
	}

	if sources[0].Label != "system" || sources[0].Path != "/etc/yume/yume.toml" {
		t.Errorf("first source = %+v, want system /etc/yume/yume.toml", sources[0])
	}

	user := sources[1]
	if user.Label != "user" || user.Path != filepath.Join(home, ".yume", "yume.toml") {
		t.Errorf("second source = %+v, want user config under %s", user, home)
	}
	if user.Exists {
		t.Error("user config should not exist in a fresh home")
	}

	// Writing the user config flips Exists
	if err := os.MkdirAll(filepath.Dir(user.Path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(user.Path, []byte("[server]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := Sources()[1]; !got.Exists {
		t.Error("user config written but Exists still false")
	}
}

func TestCreateBackup_Rotation(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "yume.toml")

	write := func(content string) {
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// No file yet: backup is a no-op
	if err := createBackup(configPath); err != nil {
		t.Fatalf("createBackup() on missing file failed: %v", err)
	}

	write("v1")
	if err := createBackup(configPath); err != nil {
		t.Fatalf("createBackup() failed: %v", err)
	}

	back1, err := os.ReadFile(configPath + ".back1")
	if err != nil {
		t.Fatalf("expected .back1 to exist: %v", err)
	}
	if string(back1) != "v1" {
		t.Errorf("expected .back1 = v1, got %q", back1)
	}

	// Second backup rotates v1 into .back2
	write("v2")
	if err := createBackup(configPath); err != nil {
		t.Fatalf("second createBackup() failed: %v", err)
	}

	back1, _ = os.ReadFile(configPath + ".back1")
	back2, _ := os.ReadFile(configPath + ".back2")
	if string(back1) != "v2" {
		t.Errorf("expected .back1 = v2, got %q", back1)
	}
	if string(back2) != "v1" {
		t.Errorf("expected .back2 = v1, got %q", back2)
	}
}
