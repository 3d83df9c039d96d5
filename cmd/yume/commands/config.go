package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/yume/config"
	"github.com/teranos/yume/sym"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: sym.Mode + " Manage yume configuration",
	Long: sym.Mode + ` config — Manage yume configuration

Display and manage yume configuration settings.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (YUME_* prefix)
3. Project config (./yume.toml, searching up directories)
4. User config (~/.yume/yume.toml)
5. System config (/etc/yume/yume.toml)
6. Default values

Examples:
  yume config show                  # Show current configuration
  yume config show --format json    # Show configuration in JSON format
  yume config get dream.keep        # Get specific config value
  yume config set dream.keep 500    # Persist a value to the user config
  yume config validate              # Validate current configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current yume configuration merged from all sources",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., server.port, dream.keep)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Long: `Write a configuration value to the user config (~/.yume/yume.toml).

The key uses dot notation with exactly one section, e.g. telemetry.endpoint
or dream.keep. A rotating backup of the file is taken before each write.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current yume configuration is valid",
	RunE:  runConfigValidate,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and which files were checked.

Lists all configuration sources in order of precedence, showing
which files exist and which are missing.`,
	RunE: runConfigWhere,
}

var configFormat string

func init() {
	// Add flags
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	// Add subcommands
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Marshal to requested format
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# yume configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# yume configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	// Check if key exists in configuration
	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	// Get the value as interface{} to preserve type
	value := config.Get(key)
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	if err := persistConfigValue(key, raw); err != nil {
		return err
	}

	fmt.Printf("✓ Wrote %s to %s\n", key, config.UserConfigPath())
	return nil
}

// persistConfigValue routes a key to the matching persist helper.
// Settings the server reads live (telemetry.endpoint, dream.keep) have
// dedicated helpers; everything else goes through the generic section
// merge.
func persistConfigValue(key, raw string) error {
	switch key {
	case "telemetry.endpoint":
		return config.UpdateTelemetryEndpoint(raw)

	case "dream.keep":
		keep, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("dream.keep requires an integer, got %q", raw)
		}
		return config.UpdateDreamKeep(keep)
	}

	section, field, ok := strings.Cut(key, ".")
	if !ok || section == "" || field == "" {
		return fmt.Errorf("key must be section.field, got %q", key)
	}
	return config.UpdateSection(section, map[string]interface{}{field: parseConfigValue(raw)})
}

// parseConfigValue keeps TOML types honest: bools and numbers are
// persisted as such, everything else stays a string.
func parseConfigValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/yume/yume.toml")
	fmt.Println("  3. [USER]     ~/.yume/yume.toml")
	fmt.Println("  4. [PROJECT]  ./yume.toml (searches up directories)")
	fmt.Println("  5. [ENV]      YUME_* environment variables")
	fmt.Println()

	for _, src := range config.Sources() {
		marker := "missing"
		if src.Exists {
			marker = "found"
		}
		fmt.Printf("  [%s] %s (%s)\n", strings.ToUpper(src.Label), src.Path, marker)
	}
	return nil
}
