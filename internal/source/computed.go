package source

import (
	"context"
	"fmt"

	"github.com/livetemplate/blockdown/internal/aggregate"
	"github.com/livetemplate/blockdown/internal/dotpath"
)

// ComputedSource aggregates the rows of another source.
type ComputedSource struct {
	name   string
	expr   *aggregate.Expr
	lookup func(name string) (Source, bool)
}

// NewComputedSource parses expr. lookup finds the aggregated source when
// Fetch is called.
func NewComputedSource(name, expr string, lookup func(string) (Source, bool)) (*ComputedSource, error) {
	e, err := aggregate.Parse(expr)
	if err != nil {
		return nil, &ValidationError{Source: name, Field: "expr", Reason: err.Error()}
	}
	return &ComputedSource{name: name, expr: e, lookup: lookup}, nil
}

func (s *ComputedSource) Name() string { return s.name }

// Target is the name of the aggregated source.
func (s *ComputedSource) Target() string { return s.expr.Source }

// Fetch fetches the target and aggregates its rows. A target that is a
// single object counts as one row.
func (s *ComputedSource) Fetch(ctx context.Context) (any, error) {
	src, ok := s.lookup(s.expr.Source)
	if !ok {
		return nil, &ValidationError{Source: s.name, Field: "expr", Reason: fmt.Sprintf("unknown source %q", s.expr.Source)}
	}
	doc, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	rows, ok := dotpath.Records(doc, "")
	if !ok {
		rows = []any{doc}
	}
	v, err := s.expr.Eval(rows)
	if err != nil {
		return nil, &SourceError{Source: s.name, Operation: "aggregate", Err: err}
	}
	return v, nil
}

func (s *ComputedSource) Close() error { return nil }
