// Package config loads gatehouse.yaml.
package config

import (
	"os"
	"regexp"
	"slices"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// A variable that is unset or empty takes its default, or expands to ""
// when it has none; such variables are returned, sorted and deduplicated,
// so callers can warn about them.
func ExpandEnv(input string) (string, []string) {
	var unset []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]

		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		if def != "" {
			return def
		}
		unset = append(unset, name)
		return ""
	})
	slices.Sort(unset)
	return out, slices.Compact(unset)
}
