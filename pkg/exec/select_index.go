// ABOUTME: Index-selection heuristic: matches a conjunctive WHERE clause
// ABOUTME: against a table's declared indexes and picks the best access path (spec.md §4.7 rule 1, §9)

package exec

import (
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

// splitConjuncts flattens a top-level chain of ANDs into its conjuncts.
// A predicate with no top-level AND is a single conjunct.
func splitConjuncts(e plan.Expr) []plan.Expr {
	if b, ok := e.(*plan.Binary); ok && b.Op == plan.OpAnd {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []plan.Expr{e}
}

// joinConjuncts rebuilds an AND chain from a conjunct list, or nil if empty.
func joinConjuncts(cs []plan.Expr) plan.Expr {
	if len(cs) == 0 {
		return nil
	}
	out := cs[0]
	for _, c := range cs[1:] {
		out = &plan.Binary{Op: plan.OpAnd, Left: out, Right: c}
	}
	return out
}

// equalityOn reports whether conjunct is a column = literal test against
// column (in either operand order), returning the literal's value.
func equalityOn(conjunct plan.Expr, column string) (types.Value, bool) {
	b, ok := conjunct.(*plan.Binary)
	if !ok || b.Op != plan.OpEq {
		return types.Value{}, false
	}
	if ref, ok := b.Left.(*plan.ColumnRef); ok && ref.Name == column {
		if lit, ok := b.Right.(*plan.Literal); ok {
			return lit.Value, true
		}
	}
	if ref, ok := b.Right.(*plan.ColumnRef); ok && ref.Name == column {
		if lit, ok := b.Left.(*plan.Literal); ok {
			return lit.Value, true
		}
	}
	return types.Value{}, false
}

// indexPath is a chosen access path over one index: a [Low, High] byte-range
// bound and the leftover conjuncts that still need evaluating as a Filter
// after the scan.
type indexPath struct {
	Index     catalog.IndexDef
	Low, High []byte
	Inclusive bool
	Remainder plan.Expr
}

// chooseIndex matches predicate's conjuncts against table's indexes and
// returns the best access path, or ok=false if no index covers even the
// leading column of its key (falling back to a sequential scan).
//
// Candidates are ranked per spec.md §9: prefer a unique index, then the
// longer matched key prefix, then lexicographically smallest index name.
func chooseIndex(indexes []catalog.IndexDef, predicate plan.Expr) (indexPath, bool) {
	if predicate == nil || len(indexes) == 0 {
		return indexPath{}, false
	}
	conjuncts := splitConjuncts(predicate)

	var best *indexPath
	var bestDef catalog.IndexDef
	bestPrefixLen := 0

	for _, idx := range indexes {
		used := make([]bool, len(conjuncts))
		values := make([]types.Value, 0, len(idx.Columns))
		matched := 0
		for _, col := range idx.Columns {
			found := false
			for i, c := range conjuncts {
				if used[i] {
					continue
				}
				if v, ok := equalityOn(c, col); ok {
					values = append(values, v)
					used[i] = true
					matched++
					found = true
					break
				}
			}
			if !found {
				break
			}
		}
		if matched == 0 {
			continue
		}

		better := best == nil
		if !better {
			switch {
			case idx.Unique != bestDef.Unique:
				better = idx.Unique
			case matched != bestPrefixLen:
				better = matched > bestPrefixLen
			default:
				better = idx.Name < bestDef.Name
			}
		}
		if !better {
			continue
		}

		prefix := types.EncodeValues(values)
		var low, high []byte
		inclusive := true
		low = prefix
		if matched == len(idx.Columns) {
			high = prefix
		} else {
			// Partial prefix: every encoded value tag is <= 3, so appending a
			// 0xFF sentinel bounds every key sharing this prefix regardless
			// of the unconstrained trailing columns' values.
			high = append(append([]byte{}, prefix...), 0xFF)
		}

		var remainder []plan.Expr
		for i, c := range conjuncts {
			if !used[i] {
				remainder = append(remainder, c)
			}
		}

		path := indexPath{Index: idx, Low: low, High: high, Inclusive: inclusive, Remainder: joinConjuncts(remainder)}
		best = &path
		bestDef = idx
		bestPrefixLen = matched
	}

	if best == nil {
		return indexPath{}, false
	}
	return *best, true
}
