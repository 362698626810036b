// ABOUTME: Row-at-a-time operators that narrow or reshape a single input stream

package exec

import (
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// Filter drops every row for which Predicate doesn't evaluate true
// (spec.md §4.7: NULL and false both drop the row).
type Filter struct {
	Input     Iterator
	Predicate plan.Expr
	Sub       SubqueryRunner
}

func (f *Filter) Open() error { return f.Input.Open() }

func (f *Filter) Next() (Row, bool, error) {
	for {
		row, ok, err := f.Input.Next()
		if err != nil || !ok {
			return Row{}, false, err
		}
		v, err := Eval(f.Predicate, row, f.Sub)
		if err != nil {
			return Row{}, false, err
		}
		if truthy(v) {
			return row, true, nil
		}
	}
}

func (f *Filter) Close() error { return f.Input.Close() }

// Project computes a fixed output row from each input row. The output
// Cols carry an empty Table (a computed expression has no home table)
// except for a bare ColumnRef passthrough, which keeps its source table so
// a later operator can still resolve it qualified.
type Project struct {
	Input Iterator
	Exprs []plan.NamedExpr
	Sub   SubqueryRunner

	cols []ColumnInfo
}

func (p *Project) Open() error {
	if err := p.Input.Open(); err != nil {
		return err
	}
	p.cols = make([]ColumnInfo, len(p.Exprs))
	for i, e := range p.Exprs {
		table := ""
		if ref, ok := e.Expr.(*plan.ColumnRef); ok {
			table = ref.Table
		}
		p.cols[i] = ColumnInfo{Table: table, Name: e.Alias}
	}
	return nil
}

func (p *Project) Next() (Row, bool, error) {
	row, ok, err := p.Input.Next()
	if err != nil || !ok {
		return Row{}, false, err
	}
	values := make([]types.Value, len(p.Exprs))
	for i, e := range p.Exprs {
		v, err := Eval(e.Expr, row, p.Sub)
		if err != nil {
			return Row{}, false, err
		}
		values[i] = v
	}
	return Row{Cols: p.cols, Values: values}, true, nil
}

func (p *Project) Close() error { return p.Input.Close() }
