package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/logger"
)

var rootCmd = &cobra.Command{
	Use:   "yume",
	Short: "yume - self-hosted image generation daemon",
	Long: `yume - job orchestration for local image generation.

yume owns a single render worker and the priority queue in front of it,
and serves WebSocket sessions that submit jobs, watch progress, switch
model modes, and steer the background dream loop.

Available commands:
  serve   - Start the yume daemon (WebSocket hub + HTTP API)
  config  - Show, get, set, and validate configuration
  version - Show version information

Examples:
  yume serve                     # Start with conf/modes.yml
  yume serve --port 4201         # Bind an explicit port
  yume config set dream.keep 500 # Persist a setting
  yume version --json            # Build info for tooling`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Plain-output commands need no logger. where must also work
		// when the config itself is broken, and initLogging loads it.
		switch cmd.Name() {
		case "version", "show", "where":
			return nil
		}
		return initLogging(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v for debug)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON log lines (overrides log.json)")

	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(ConfigCmd)
	rootCmd.AddCommand(VersionCmd)
}

// initLogging configures the global logger from config, with flag
// overrides. -v wins over log.level; --json-logs wins over log.json.
func initLogging(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	jsonLogs := cfg.Log.JSON
	if cmd.Flags().Changed("json-logs") {
		jsonLogs, _ = cmd.Flags().GetBool("json-logs")
	}

	level := zapcore.InfoLevel
	if cfg.Log.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("invalid log.level %q: %w", cfg.Log.Level, err)
		}
		level = parsed
	}
	if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 {
		level = zapcore.DebugLevel
	}

	if err := logger.InitializeWithLevel(jsonLogs, level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
