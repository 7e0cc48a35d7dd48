package commands

import (
	"database/sql"

	"github.com/sheetflow/sheetflow/ai/openai"
	"github.com/sheetflow/sheetflow/config"
	"github.com/sheetflow/sheetflow/db"
	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/logger"
	"github.com/sheetflow/sheetflow/prompt"
	"github.com/sheetflow/sheetflow/sheet"
)

// openDatabase opens and migrates the sheetflow database. An empty path
// falls back to the configured location.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// newProviderClient builds the OpenAI client from the loaded configuration
func newProviderClient(cfg *config.Config) (*openai.Client, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, errors.WithHint(errors.ErrMissingAPIKey,
			"set SHEETFLOW_OPENAI_API_KEY or openai.api_key in sheetflow.toml")
	}
	return openai.NewClient(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Seed:        cfg.OpenAI.Seed,
		Logger:      logger.Logger,
	}), nil
}

// loadActivePrompts loads the prompt file and filters to active prompts
func loadActivePrompts(path, defaultModel string) ([]prompt.Prompt, error) {
	prompts, err := prompt.LoadFile(path, defaultModel)
	if err != nil {
		return nil, err
	}
	active := prompt.Active(prompts)
	if len(active) == 0 {
		return nil, errors.Newf("no active prompts in %s", path)
	}
	return active, nil
}

// loadGrid loads the sheet and guarantees the bookkeeping columns exist
func loadGrid(path string) (*sheet.Grid, error) {
	g, err := sheet.Load(path)
	if err != nil {
		return nil, err
	}
	if g.RowCount() == 0 {
		return nil, errors.Newf("sheet %s has no data rows", path)
	}
	g.EnsureColumn(sheet.ColumnStatus)
	g.EnsureColumn(sheet.ColumnBatchID)
	return g, nil
}
