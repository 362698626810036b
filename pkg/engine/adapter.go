// ABOUTME: Adapters binding the engine's open tables and catalog into the
// ABOUTME: narrow interfaces pkg/exec's planner depends on

package engine

import (
	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/exec"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// catalogAdapter exposes the engine's already-open tables as exec.TableAccess
// values, so pkg/exec never needs to know how a table's heap/indexes got
// opened.
type catalogAdapter struct {
	e *Engine
}

func (a *catalogAdapter) Table(name string) (exec.TableAccess, error) {
	t, ok := a.e.tables[name]
	if !ok {
		return exec.TableAccess{}, dberr.New(dberr.KindNotFound, "no such table: "+name)
	}
	access := exec.TableAccess{
		Schema:  t.schema,
		Heap:    t.h,
		Indexes: make([]catalog.IndexDef, 0, len(t.indexes)),
		Trees:   make(map[string]*btree.Manager, len(t.indexes)),
	}
	for idxName, idx := range t.indexes {
		access.Indexes = append(access.Indexes, idx.def)
		access.Trees[idxName] = idx.tree
	}
	return access, nil
}

func (a *catalogAdapter) View(name string) (*catalog.ViewDef, error) {
	return a.e.cat.View(name)
}

// subqueryRunner drains a nested plan.SubqueryExpr's plan for scalar and
// IN-list subquery evaluation.
type subqueryRunner struct {
	planner *exec.Planner
}

func (s *subqueryRunner) RunScalar(q *plan.SubqueryExpr) (types.Value, error) {
	vals, err := s.collect(q)
	if err != nil {
		return types.Value{}, err
	}
	if len(vals) == 0 {
		return types.NullValue(), nil
	}
	return vals[0], nil
}

func (s *subqueryRunner) RunList(q *plan.SubqueryExpr) ([]types.Value, error) {
	return s.collect(q)
}

func (s *subqueryRunner) collect(q *plan.SubqueryExpr) ([]types.Value, error) {
	it, err := s.planner.Build(q.Plan)
	if err != nil {
		return nil, err
	}
	if err := it.Open(); err != nil {
		return nil, err
	}
	defer it.Close()

	var out []types.Value
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(row.Values) > 0 {
			out = append(out, row.Values[0])
		}
	}
	return out, nil
}
