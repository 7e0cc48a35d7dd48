// Package prompt defines the named prompt templates applied to sheet rows
// and the placeholder renderer that binds them to row fields.
package prompt

import (
	"github.com/spf13/viper"

	"github.com/sheetflow/sheetflow/errors"
)

// Prompt is a named template applied to every eligible row.
//
// Names must remain stable between batch submission and result application:
// the name rides inside each correlation id and is the only way a result
// line finds its column group.
type Prompt struct {
	Name   string `mapstructure:"name"`
	Text   string `mapstructure:"text"`
	Model  string `mapstructure:"model"`
	Active bool   `mapstructure:"active"`
}

// promptFile is the TOML shape of a prompt definitions file
type promptFile struct {
	Prompts []Prompt `mapstructure:"prompts"`
}

// LoadFile reads prompt definitions from a TOML file:
//
//	[[prompts]]
//	name = "summary"
//	text = "Summarize {{Description}} in one sentence."
//	model = "gpt-4o-mini"   # optional, defaults to the configured model
//	active = true
//
// Prompts without a model get defaultModel. Duplicate names are an error;
// the name keys result columns and correlation ids.
func LoadFile(path, defaultModel string) ([]Prompt, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read prompts file %s", path)
	}

	var pf promptFile
	if err := v.Unmarshal(&pf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse prompts file %s", path)
	}

	seen := make(map[string]bool, len(pf.Prompts))
	for i := range pf.Prompts {
		p := &pf.Prompts[i]
		if p.Name == "" {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "prompt %d in %s has no name", i, path)
		}
		if seen[p.Name] {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "duplicate prompt name %q in %s", p.Name, path)
		}
		seen[p.Name] = true
		if p.Model == "" {
			p.Model = defaultModel
		}
	}

	return pf.Prompts, nil
}

// Active filters to the prompts gated on.
func Active(prompts []Prompt) []Prompt {
	var out []Prompt
	for _, p := range prompts {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}
