// Package config provides sheetflow configuration management backed by Viper.
//
// Configuration precedence (lowest to highest):
//
//	defaults < ~/.sheetflow/config.toml < project sheetflow.toml < env vars
//
// Environment variables use the SHEETFLOW_ prefix with dots replaced by
// underscores, e.g. SHEETFLOW_OPENAI_API_KEY.
package config

// Config is the root sheetflow configuration
type Config struct {
	Debug    bool           `mapstructure:"debug"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Run      RunConfig      `mapstructure:"run"`
}

// DatabaseConfig holds sqlite settings for the ledger and log tables
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// OpenAIConfig holds provider API settings
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Seed        int     `mapstructure:"seed"`
}

// BatchConfig holds batch submission settings
type BatchConfig struct {
	// SizeLimit is the operator-facing cap on rows per submission.
	// Distinct from the provider hard limits enforced in the batch package.
	SizeLimit        int    `mapstructure:"size_limit"`
	CompletionWindow string `mapstructure:"completion_window"`
}

// PricingConfig selects the rate table for cost accounting
type PricingConfig struct {
	// SyncMode selects the rate table used by the synchronous runner:
	// "standard" bills at synchronous rates, "batch" at discounted rates.
	SyncMode string `mapstructure:"sync_mode"`
}

// RunConfig holds synchronous runner settings
type RunConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// GetDatabasePath returns the configured database path with fallback
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "sheetflow.db"
	}
	return c.Database.Path
}
