package config

import (
	"github.com/spf13/viper"
)

// DefaultDirPermissions is used when creating the ~/.sheetflow directory
const DefaultDirPermissions = 0o755

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Debug flag gates the execution log (zap debug level)
	v.SetDefault("debug", false)

	// Database defaults
	v.SetDefault("database.path", "sheetflow.db")

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-4o-mini") // Cost-effective default
	v.SetDefault("openai.temperature", 0.0)     // Deterministic
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.seed", 1)

	// Batch defaults
	v.SetDefault("batch.size_limit", 200)          // Rows per submission
	v.SetDefault("batch.completion_window", "24h") // Only window the provider accepts

	// Pricing: synchronous runs bill at standard rates unless configured
	v.SetDefault("pricing.sync_mode", "standard")

	// Synchronous runner pacing
	v.SetDefault("run.requests_per_minute", 60)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("openai.api_key", "SHEETFLOW_OPENAI_API_KEY")
	v.BindEnv("database.path", "SHEETFLOW_DATABASE_PATH")
}
