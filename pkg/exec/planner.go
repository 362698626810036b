// ABOUTME: Lowers a logical plan.Node tree into a physical Iterator tree
// ABOUTME: Picks IndexScan for an indexable Filter and HashJoin for an equi-join; no filter pushdown or sort elision

package exec

import (
	"fmt"

	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/heap"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// TableAccess is everything the planner needs to build an access path over
// one open table: its schema, its heap, and its indexes' trees keyed by
// index name. The engine facade owns opening these and keeping them alive
// for the lifetime of the database.
type TableAccess struct {
	Schema  *types.Schema
	Heap    *heap.Heap
	Indexes []catalog.IndexDef
	Trees   map[string]*btree.Manager
}

// Catalog is the narrow slice of pkg/catalog's API the planner depends on,
// so this package doesn't import the engine's wiring concerns.
type Catalog interface {
	Table(name string) (table TableAccess, err error)
	View(name string) (*catalog.ViewDef, error)
}

// Planner lowers logical plans into physical operator trees. Sub is used
// both to evaluate correlated/uncorrelated subquery expressions and to
// plan a nested plan.SubqueryExpr's own Node tree recursively.
type Planner struct {
	Catalog Catalog
	Sub     SubqueryRunner
}

// Build lowers node into a ready-to-Open physical Iterator.
func (p *Planner) Build(node plan.Node) (Iterator, error) {
	switch n := node.(type) {
	case *plan.TableScan:
		return p.buildTableScan(n)
	case *plan.Filter:
		return p.buildFilter(n)
	case *plan.Project:
		input, err := p.Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &Project{Input: input, Exprs: n.Exprs, Sub: p.Sub}, nil
	case *plan.Join:
		return p.buildJoin(n)
	case *plan.Aggregate:
		input, err := p.Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &HashAggregate{Input: input, GroupBy: n.GroupBy, Aggregates: n.Aggregates, Having: n.Having, Sub: p.Sub}, nil
	case *plan.Sort:
		input, err := p.Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &Sort{Input: input, Keys: n.Keys, Sub: p.Sub}, nil
	case *plan.Limit:
		input, err := p.Build(n.Input)
		if err != nil {
			return nil, err
		}
		return &Limit{Input: input, N: n.N}, nil
	default:
		return nil, dberr.New(dberr.KindSemantic, fmt.Sprintf("exec: unsupported plan node %T", node))
	}
}

func (p *Planner) buildTableScan(n *plan.TableScan) (Iterator, error) {
	access, err := p.resolveTable(n.Table)
	if err != nil {
		return nil, err
	}
	return &SeqScan{Table: scanLabel(n), Heap: access.Heap, Schema: access.Schema}, nil
}

// resolveTable resolves a TableScan's name as a base table. A view's stored
// query (spec.md §4.5) is raw SELECT text the catalog never parses — the
// front end is responsible for expanding a view reference into the view's
// own logical plan before handing this planner a plan.Node, since that
// requires the SQL parser this repository doesn't implement. If name
// instead turns out to belong to a view, that is reported distinctly from
// an unknown table so the caller can tell "no such relation" apart from
// "this relation exists but wasn't expanded upstream."
func (p *Planner) resolveTable(name string) (TableAccess, error) {
	access, err := p.Catalog.Table(name)
	if err == nil {
		return access, nil
	}
	if v, viewErr := p.Catalog.View(name); viewErr == nil && v != nil {
		return TableAccess{}, dberr.New(dberr.KindSemantic, fmt.Sprintf("%q is a view: it must be expanded into its stored query's plan before reaching the physical planner", name))
	}
	return TableAccess{}, err
}

func scanLabel(n *plan.TableScan) string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Table
}

// buildFilter applies spec.md §4.7 rule 1: a Filter directly over a
// TableScan whose predicate's leading conjuncts match an index's key
// prefix is lowered to an IndexScan (plus a residual Filter for whatever
// conjuncts the index couldn't absorb), instead of a SeqScan+Filter.
func (p *Planner) buildFilter(n *plan.Filter) (Iterator, error) {
	if scan, ok := n.Input.(*plan.TableScan); ok {
		access, err := p.resolveTable(scan.Table)
		if err == nil && len(access.Indexes) > 0 {
			if path, ok := chooseIndex(access.Indexes, n.Predicate); ok {
				tree := access.Trees[path.Index.Name]
				if tree != nil {
					idxScan := &IndexScan{
						Table:     scanLabel(scan),
						Index:     path.Index,
						Tree:      tree,
						Heap:      access.Heap,
						Schema:    access.Schema,
						Low:       path.Low,
						High:      path.High,
						Inclusive: path.Inclusive,
					}
					if path.Remainder == nil {
						return idxScan, nil
					}
					return &Filter{Input: idxScan, Predicate: path.Remainder, Sub: p.Sub}, nil
				}
			}
		}
	}

	input, err := p.Build(n.Input)
	if err != nil {
		return nil, err
	}
	return &Filter{Input: input, Predicate: n.Predicate, Sub: p.Sub}, nil
}

// buildJoin applies spec.md §4.7 rule 4: an equi-join predicate (a single
// top-level Binary OpEq between one column from each side) lowers to a
// HashJoin; anything else falls back to NestedLoopJoin.
func (p *Planner) buildJoin(n *plan.Join) (Iterator, error) {
	left, err := p.Build(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := p.Build(n.Right)
	if err != nil {
		return nil, err
	}

	leftTables := tablesOf(n.Left, map[string]bool{})
	if outerKey, innerKey, ok := equiJoinKeys(n.On, leftTables); ok {
		return &HashJoin{Outer: left, Inner: right, Type: n.Type, OuterKey: outerKey, InnerKey: innerKey, Sub: p.Sub}, nil
	}
	return &NestedLoopJoin{Outer: left, Inner: right, Type: n.Type, On: n.On, Sub: p.Sub}, nil
}

// tablesOf collects the table/alias names a logical subtree exposes, by
// walking down through the pass-through nodes to each TableScan and Join
// leaf it contains.
func tablesOf(node plan.Node, into map[string]bool) map[string]bool {
	switch n := node.(type) {
	case *plan.TableScan:
		into[scanLabel(n)] = true
	case *plan.Filter:
		tablesOf(n.Input, into)
	case *plan.Project:
		tablesOf(n.Input, into)
	case *plan.Sort:
		tablesOf(n.Input, into)
	case *plan.Limit:
		tablesOf(n.Input, into)
	case *plan.Aggregate:
		tablesOf(n.Input, into)
	case *plan.Join:
		tablesOf(n.Left, into)
		tablesOf(n.Right, into)
	}
	return into
}

// equiJoinKeys recognizes an `a.x = b.y`-shaped predicate with one
// ColumnRef per side, each belonging to a distinct input of the join (the
// sides may be any scalar expression, but the hash-join fast path only
// applies to the common bare-column case). leftTables names the outer
// input's tables, so the returned keys are correctly oriented regardless
// of which side of `=` the outer column appeared on.
func equiJoinKeys(on plan.Expr, leftTables map[string]bool) (outer, inner plan.Expr, ok bool) {
	b, isBinary := on.(*plan.Binary)
	if !isBinary || b.Op != plan.OpEq {
		return nil, nil, false
	}
	l, leftIsCol := b.Left.(*plan.ColumnRef)
	r, rightIsCol := b.Right.(*plan.ColumnRef)
	if !leftIsCol || !rightIsCol {
		return nil, nil, false
	}
	if leftTables[l.Table] && !leftTables[r.Table] {
		return b.Left, b.Right, true
	}
	if leftTables[r.Table] && !leftTables[l.Table] {
		return b.Right, b.Left, true
	}
	return nil, nil, false
}
