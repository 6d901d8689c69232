package placeholder

import (
	"regexp"
)

// Scope separates tokens resolved once at workspace creation from tokens
// the agent runtime fills in later.
type Scope string

const (
	ScopeStable   Scope = "stable"
	ScopeVolatile Scope = "volatile"
)

// Decl declares a placeholder a template uses, as listed in a type's
// schema file.
type Decl struct {
	Name     string `yaml:"name"`
	Scope    Scope  `yaml:"scope"`
	Required bool   `yaml:"required"`
	// Default, when set on a stable placeholder, is used at workspace
	// creation if no explicit value was supplied.
	Default string `yaml:"default,omitempty"`
}

// Map holds placeholder values by scope.
type Map struct {
	Stable   map[string]string
	Volatile map[string]string
}

func (m Map) forScope(scope Scope) map[string]string {
	if scope == ScopeVolatile {
		return m.Volatile
	}
	return m.Stable
}

var tokenRe = regexp.MustCompile(`\{\{([A-Za-z0-9_-]+)\}\}`)

// Resolve replaces every {{NAME}} token that has a value in m at the
// given scope. Tokens without a value pass through verbatim, so
// resolution is idempotent and forward-compatible with token names this
// build does not know about.
func Resolve(content string, m Map, scope Scope) string {
	values := m.forScope(scope)
	if len(values) == 0 {
		return content
	}
	return tokenRe.ReplaceAllStringFunc(content, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if v, ok := values[name]; ok {
			return v
		}
		return tok
	})
}

// Tokens returns the token names present in content, in order of first
// appearance.
func Tokens(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, match := range tokenRe.FindAllStringSubmatch(content, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			out = append(out, match[1])
		}
	}
	return out
}

// Missing returns the names of declared placeholders at the given scope
// that are required but have no value in m. A missing required stable
// value at workspace creation is a configuration error, never a silent
// blank.
func Missing(decls []Decl, m Map, scope Scope) []string {
	values := m.forScope(scope)
	var out []string
	for _, d := range decls {
		if d.Scope != scope || !d.Required {
			continue
		}
		if _, ok := values[d.Name]; !ok {
			out = append(out, d.Name)
		}
	}
	return out
}
