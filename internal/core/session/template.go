package session

import (
	"regexp"
	"strings"

	"tc_eqpsim/internal/core/registry"
)

var placeholder = regexp.MustCompile(`\{([^}]+)\}`)

// ResolveTemplate replaces {eqpid} and {var.KEY} (both case-insensitive).
// Unknown placeholders are left untouched.
func ResolveTemplate(template string, eqp *registry.EqpRuntime) string {
	if template == "" {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		raw := m[1 : len(m)-1]
		key := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case key == "eqpid":
			return eqp.ID
		case strings.HasPrefix(key, "var."):
			if v, ok := eqp.Var(key[len("var."):]); ok {
				return v
			}
		}
		return m
	})
}
