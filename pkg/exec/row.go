// ABOUTME: Row is the in-flight tuple shape operators pass between each other
// ABOUTME: It carries column provenance (table, name) so a join's output can still resolve qualified references

package exec

import "github.com/quilldb/quill/pkg/types"

// ColumnInfo names one column of a Row: which table it came from (empty for
// a computed/aliased expression) and its name in that table or its output
// alias.
type ColumnInfo struct {
	Table string
	Name  string
	Kind  types.Kind
}

// Row is one tuple flowing through the physical operator tree. Per spec.md
// §4.7's pull-based iterator contract, operators must not retain a Row
// (or its Values slice) across calls to Next — callers that need to keep a
// row past the next Next call (Sort, HashAggregate, HashJoin's build side)
// must copy it first, which Row.Clone does.
type Row struct {
	Cols   []ColumnInfo
	Values []types.Value
}

// Clone returns a Row whose Values slice is independent of the original
// (Cols is immutable once built, so it's shared).
func (r Row) Clone() Row {
	v := make([]types.Value, len(r.Values))
	copy(v, r.Values)
	return Row{Cols: r.Cols, Values: v}
}

// Get resolves a possibly-qualified column reference against the row. An
// empty table matches any column of that name, as long as it's unambiguous;
// on ambiguity the first match wins (the planner is expected to have
// resolved true ambiguity already — this is a defensive fallback).
func (r Row) Get(table, name string) (types.Value, bool) {
	for i, c := range r.Cols {
		if c.Name != name {
			continue
		}
		if table != "" && c.Table != "" && c.Table != table {
			continue
		}
		return r.Values[i], true
	}
	return types.Value{}, false
}

// Concat combines two rows' columns and values, used to build a join's
// output row from its outer and inner halves.
func Concat(left, right Row) Row {
	cols := make([]ColumnInfo, 0, len(left.Cols)+len(right.Cols))
	vals := make([]types.Value, 0, len(left.Values)+len(right.Values))
	cols = append(cols, left.Cols...)
	cols = append(cols, right.Cols...)
	vals = append(vals, left.Values...)
	vals = append(vals, right.Values...)
	return Row{Cols: cols, Values: vals}
}

// nullRow returns a Row of the given shape with every value NULL, used to
// pad the missing side of an outer join.
func nullRow(cols []ColumnInfo) Row {
	vals := make([]types.Value, len(cols))
	for i := range vals {
		vals[i] = types.NullValue()
	}
	return Row{Cols: cols, Values: vals}
}

// Iterator is the volcano-style physical operator contract spec.md §4.7
// specifies: open, next, close. Next returns (row, true, nil) for each
// tuple and (zero, false, nil) at end of stream; an error aborts the scan.
type Iterator interface {
	Open() error
	Next() (Row, bool, error)
	Close() error
}
