package exec

import (
	"testing"

	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

func unorderedRows() []Row {
	cols := []ColumnInfo{{Table: "t", Name: "id", Kind: types.KindInt}}
	return []Row{
		{Cols: cols, Values: []types.Value{types.IntValue(3)}},
		{Cols: cols, Values: []types.Value{types.NullValue()}},
		{Cols: cols, Values: []types.Value{types.IntValue(1)}},
		{Cols: cols, Values: []types.Value{types.IntValue(2)}},
	}
}

func TestSortOrdersWithNullsFirst(t *testing.T) {
	s := &Sort{
		Input: &rowsIter{rows: unorderedRows()},
		Keys:  []plan.SortKey{{Expr: &plan.ColumnRef{Table: "t", Name: "id"}}},
	}
	rows := drain(t, s)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if !rows[0].Values[0].IsNull() {
		t.Fatalf("expected NULL to sort first, got %v", rows[0].Values[0])
	}
	want := []int64{1, 2, 3}
	for i, w := range want {
		if rows[i+1].Values[0].I64 != w {
			t.Fatalf("expected %d at position %d, got %d", w, i+1, rows[i+1].Values[0].I64)
		}
	}
}

func TestSortDescending(t *testing.T) {
	s := &Sort{
		Input: &rowsIter{rows: []Row{
			{Cols: unorderedRows()[0].Cols, Values: []types.Value{types.IntValue(1)}},
			{Cols: unorderedRows()[0].Cols, Values: []types.Value{types.IntValue(3)}},
			{Cols: unorderedRows()[0].Cols, Values: []types.Value{types.IntValue(2)}},
		}},
		Keys: []plan.SortKey{{Expr: &plan.ColumnRef{Table: "t", Name: "id"}, Desc: true}},
	}
	rows := drain(t, s)
	want := []int64{3, 2, 1}
	for i, w := range want {
		if rows[i].Values[0].I64 != w {
			t.Fatalf("expected %d at position %d, got %d", w, i, rows[i].Values[0].I64)
		}
	}
}

func TestLimitZeroYieldsNothing(t *testing.T) {
	l := &Limit{Input: &rowsIter{rows: idNameRows()}, N: 0}
	rows := drain(t, l)
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows for LIMIT 0, got %d", len(rows))
	}
}

func TestLimitCapsOutput(t *testing.T) {
	l := &Limit{Input: &rowsIter{rows: idNameRows()}, N: 2}
	rows := drain(t, l)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}
