package mount

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	percentVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)
	dollarVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExpandSource resolves a templated source spec into a path. It understands
// $VAR, ${VAR}, %VAR% and a leading ~. Unknown variables are left as written.
func ExpandSource(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ""
	}
	expanded := replaceVars(percentVar, spec)
	expanded = replaceVars(dollarVar, expanded)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}
	return filepath.Clean(expanded)
}

// replaceVars substitutes every match of re whose captured name is set in the
// environment. Unset names keep their original spelling.
func replaceVars(re *regexp.Regexp, s string) string {
	return re.ReplaceAllStringFunc(s, func(token string) string {
		groups := re.FindStringSubmatch(token)
		name := groups[1]
		if name == "" && len(groups) > 2 {
			name = groups[2]
		}
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return token
	})
}
