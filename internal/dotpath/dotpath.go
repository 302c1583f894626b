// Package dotpath evaluates dot-separated paths ("a.b.0.c" or "a.b[0].c")
// against decoded JSON documents.
//
// A missing value is reported explicitly through the second return value
// instead of propagating nil through unchecked lookups.
package dotpath

import (
	"strconv"
	"strings"
)

// Split normalises bracket indices and splits path into segments.
// An empty path has no segments and addresses the document root.
func Split(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	parts := strings.Split(path, ".")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// Lookup walks doc along path. It returns (nil, false) when any segment is
// missing, an index is out of range, a step lands on a non-container, or
// the final value is JSON null.
func Lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range Split(path) {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case map[string]string:
		v, ok := node[seg]
		return v, ok
	case []any:
		return index(len(node), seg, func(i int) any { return node[i] })
	case []map[string]any:
		return index(len(node), seg, func(i int) any { return node[i] })
	default:
		return nil, false
	}
}

func index(n int, seg string, at func(int) any) (any, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= n {
		return nil, false
	}
	return at(i), true
}

// Float looks up path and coerces the value to float64. Numeric strings
// are accepted.
func Float(doc any, path string) (float64, bool) {
	v, ok := Lookup(doc, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Records looks up path and returns it as a list. It reports false when
// the value is missing or is not a list.
func Records(doc any, path string) ([]any, bool) {
	v, ok := Lookup(doc, path)
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []any:
		return list, true
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}
