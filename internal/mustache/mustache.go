// Package mustache implements the flat {{identifier}} placeholder syntax
// used by dynamic content and live-metric URL templates.
//
// There are no nested paths, expressions or sections: a placeholder names
// exactly one variable and identifiers match case-sensitively.
package mustache

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// placeholderPattern matches {{name}} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_-]*)\s*\}\}`)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// IsIdentifier reports whether name can appear inside a placeholder.
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// LookupFunc resolves a variable name to its string value.
type LookupFunc func(name string) (string, bool)

// MissingError reports template variables that had no value.
type MissingError struct {
	Template string
	Names    []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("template %q: unresolved variables: %s", e.Template, strings.Join(e.Names, ", "))
}

// Variables returns the distinct variable names in tmpl, in order of first use.
func Variables(tmpl string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(tmpl, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// HasPlaceholders reports whether tmpl references any variable.
func HasPlaceholders(tmpl string) bool {
	return placeholderPattern.MatchString(tmpl)
}

// Expand substitutes every placeholder lookup can resolve. Unresolved
// placeholders are left as literal text and reported in missing.
func Expand(tmpl string, lookup LookupFunc) (out string, missing []string) {
	return expand(tmpl, lookup, nil)
}

// Resolve substitutes all placeholders or returns a *MissingError when any
// variable is absent. It never returns a partially expanded string.
func Resolve(tmpl string, lookup LookupFunc) (string, error) {
	out, missing := expand(tmpl, lookup, nil)
	if len(missing) > 0 {
		return "", &MissingError{Template: tmpl, Names: missing}
	}
	return out, nil
}

// ResolveURL is Resolve with each substituted value path-escaped.
func ResolveURL(tmpl string, lookup LookupFunc) (string, error) {
	out, missing := expand(tmpl, lookup, url.PathEscape)
	if len(missing) > 0 {
		return "", &MissingError{Template: tmpl, Names: missing}
	}
	return out, nil
}

func expand(tmpl string, lookup LookupFunc, escape func(string) string) (string, []string) {
	var missing []string
	seen := make(map[string]bool)
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if lookup != nil {
			if v, ok := lookup(name); ok {
				if escape != nil {
					return escape(v)
				}
				return v
			}
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return match
	})
	return out, missing
}

// MapLookup adapts a map to a LookupFunc.
func MapLookup(values map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}
