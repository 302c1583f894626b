package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Expr
		wantErr string
	}{
		{"count", "count(tasks)", &Expr{Func: "count", Source: "tasks"}, ""},
		{"count where", "count(tasks where done)", &Expr{Func: "count", Source: "tasks", Where: &Condition{Field: "done", Operator: "=", Value: true}}, ""},
		{"sum where string", `sum(expenses.amount where category = "travel")`, &Expr{Func: "sum", Source: "expenses", Field: "amount", Where: &Condition{Field: "category", Operator: "=", Value: "travel"}}, ""},
		{"nested field", "MAX(chains.stats.tps where tps >= 10)", &Expr{Func: "max", Source: "chains", Field: "stats.tps", Where: &Condition{Field: "tps", Operator: ">=", Value: 10.0}}, ""},
		{"sum without field", "sum(expenses)", nil, "requires a field"},
		{"unknown function", "median(tasks.x)", nil, "unknown function"},
		{"invalid syntax", "count tasks", nil, "invalid expression syntax"},
		{"empty", "", nil, "invalid expression syntax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

var chains = []any{
	map[string]any{"name": "base", "tps": 1250000.0, "live": true},
	map[string]any{"name": "op", "tps": "48000", "live": "true"},
	map[string]any{"name": "zora", "tps": 900.0, "live": false},
	map[string]any{"name": "draft"},
	"not a row",
}

func TestEval(t *testing.T) {
	tests := []struct {
		expr string
		want any
	}{
		{"count(chains)", 4.0},
		{"count(chains where live)", 2.0},
		{"count(chains where live = false)", 2.0},
		{"count(chains where name != base)", 3.0},
		{"count(chains where tps > 1000)", 2.0},
		{"count(chains where tps <= 900)", 1.0},
		{"sum(chains.tps)", 1298900.0},
		{"sum(chains.tps where live)", 1298000.0},
		{"avg(chains.tps where name = zora)", 900.0},
		{"min(chains.tps)", 900.0},
		{"max(chains.tps)", 1250000.0},
		{"min(chains.tps where name = nobody)", nil},
		{"avg(chains.tps where name = nobody)", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Parse(tt.expr)
			require.NoError(t, err)
			got, err := e.Eval(chains)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalNonNumericField(t *testing.T) {
	e, err := Parse("sum(chains.name)")
	require.NoError(t, err)
	_, err = e.Eval(chains)
	assert.ErrorContains(t, err, `field "name" has non-numeric value base`)
}
