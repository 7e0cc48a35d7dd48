package prompt

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Render substitutes every {{name}} placeholder in template with the value
// of the matching field. Field names are trimmed of surrounding whitespace
// and matched exactly (case-sensitive). Unresolved placeholders remain
// literal text. Substitution is a single pass over the template, so values
// containing placeholder syntax are never expanded again.
func Render(template string, fields map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := fields[name]; ok {
			return value
		}
		return match
	})
}
