package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sheetflow/sheetflow/config"
)

// ConfigCmd groups configuration inspection commands
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect sheetflow configuration",
	Long: `Inspect the effective sheetflow configuration.

Configuration sources (in order of precedence):
1. Environment variables (SHEETFLOW_* prefix)
2. Project config (./sheetflow.toml, searched up the directory tree)
3. User config (~/.sheetflow/config.toml)
4. Default values

Examples:
  sheetflow config show
  sheetflow config show --format json
  sheetflow config get database.path`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, openai.model)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configFormatFlag string

func init() {
	configShowCmd.Flags().StringVar(&configFormatFlag, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Never print the API key.
	redacted := *cfg
	if redacted.OpenAI.APIKey != "" {
		redacted.OpenAI.APIKey = "(set)"
	}

	switch configFormatFlag {
	case "json":
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# sheetflow configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# sheetflow configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormatFlag)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := config.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	if key == "openai.api_key" {
		fmt.Println("(set)")
		return nil
	}

	fmt.Println(v.Get(key))
	return nil
}
