// Package aggregate evaluates summary expressions over the rows of a source.
//
// Supported forms:
//
//	count(tasks)
//	count(tasks where done)
//	sum(expenses.amount where category = "travel")
//	avg(scores.value)  min(prices.cost)  max(chains.tps where tps > 1000)
//
// The field after the source name may itself be a dot-path into each row.
package aggregate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/livetemplate/blockdown/internal/dotpath"
)

// Expr is a parsed aggregate expression.
type Expr struct {
	Func   string // count, sum, avg, min, max
	Source string
	Field  string // Required for everything but count
	Where  *Condition
}

// Condition filters rows before aggregation.
type Condition struct {
	Field    string
	Operator string // =, !=, <, >, <=, >=
	Value    any
}

var exprPattern = regexp.MustCompile(`^(\w+)\(([^)]+)\)$`)

// operators are tried longest first so ">=" is not read as ">".
var operators = []string{"!=", ">=", "<=", "=", ">", "<"}

// Parse parses an aggregate expression.
func Parse(input string) (*Expr, error) {
	input = strings.TrimSpace(input)
	m := exprPattern.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("invalid expression syntax: %q", input)
	}

	e := &Expr{Func: strings.ToLower(m[1])}
	switch e.Func {
	case "count", "sum", "avg", "min", "max":
	default:
		return nil, fmt.Errorf("unknown function: %s", e.Func)
	}

	target, where, hasWhere := strings.Cut(m[2], " where ")
	e.Source, e.Field, _ = strings.Cut(strings.TrimSpace(target), ".")
	if e.Source == "" {
		return nil, fmt.Errorf("%s: source name is required", e.Func)
	}
	if e.Func != "count" && e.Field == "" {
		return nil, fmt.Errorf("%s requires a field: %s(source.field)", e.Func, e.Func)
	}
	if hasWhere {
		c, err := parseCondition(where)
		if err != nil {
			return nil, fmt.Errorf("invalid where clause: %w", err)
		}
		e.Where = c
	}
	return e, nil
}

func parseCondition(s string) (*Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty condition")
	}
	for _, op := range operators {
		if i := strings.Index(s, op); i > 0 {
			return &Condition{
				Field:    strings.TrimSpace(s[:i]),
				Operator: op,
				Value:    parseValue(s[i+len(op):]),
			}, nil
		}
	}
	// A bare field tests truthiness.
	return &Condition{Field: s, Operator: "=", Value: true}, nil
}

func parseValue(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Eval aggregates rows. Rows that are not objects are skipped. min and max
// of no values are nil; avg of no values is 0.
func (e *Expr) Eval(rows []any) (any, error) {
	var matched []any
	for _, row := range rows {
		if _, ok := row.(map[string]any); !ok {
			continue
		}
		if e.Where == nil || e.Where.matches(row) {
			matched = append(matched, row)
		}
	}

	if e.Func == "count" {
		return float64(len(matched)), nil
	}

	var sum, lo, hi float64
	n := 0
	for _, row := range matched {
		raw, ok := dotpath.Lookup(row, e.Field)
		if !ok {
			continue
		}
		v, ok := dotpath.Float(row, e.Field)
		if !ok {
			return nil, fmt.Errorf("field %q has non-numeric value %v", e.Field, raw)
		}
		if n == 0 || v < lo {
			lo = v
		}
		if n == 0 || v > hi {
			hi = v
		}
		sum += v
		n++
	}

	switch e.Func {
	case "sum":
		return sum, nil
	case "avg":
		if n == 0 {
			return 0.0, nil
		}
		return sum / float64(n), nil
	case "min", "max":
		if n == 0 {
			return nil, nil
		}
		if e.Func == "min" {
			return lo, nil
		}
		return hi, nil
	}
	return nil, fmt.Errorf("unknown function: %s", e.Func)
}

func (c *Condition) matches(row any) bool {
	v, ok := dotpath.Lookup(row, c.Field)
	switch c.Operator {
	case "=":
		return equal(v, c.Value)
	case "!=":
		return !equal(v, c.Value)
	}
	if !ok {
		return false
	}
	switch c.Operator {
	case ">":
		return compare(v, c.Value) > 0
	case "<":
		return compare(v, c.Value) < 0
	case ">=":
		return compare(v, c.Value) >= 0
	case "<=":
		return compare(v, c.Value) <= 0
	}
	return false
}

func equal(a, b any) bool {
	if want, ok := b.(bool); ok {
		return truthy(a) == want
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	}
	return true
}

func compare(a, b any) int {
	x, aok := toFloat(a)
	y, bok := toFloat(b)
	if !aok || !bok {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return dotpath.Float(v, "")
}
