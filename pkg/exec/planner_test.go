package exec

import (
	"testing"

	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/heap"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

type fakeCatalog struct {
	tables map[string]TableAccess
}

func (f *fakeCatalog) Table(name string) (TableAccess, error) { return f.tables[name], nil }
func (f *fakeCatalog) View(name string) (*catalog.ViewDef, error) {
	return nil, nil
}

func TestPlannerChoosesIndexScanOverTableScanFilter(t *testing.T) {
	idxPool := openPoolFor(t, "index.db", 16)
	tree, err := btree.Open(idxPool, nil, nil)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	idxDef := catalog.IndexDef{Name: "idx_id", Table: "accounts", Columns: []string{"id"}, Unique: true}
	h := openAccountsHeap(t, heap.Config{Indexes: []*heap.IndexBinding{{Def: idxDef, Tree: tree}}})

	for i, name := range []string{"ada", "grace", "alan"} {
		if _, err := h.Insert(accountsRow(int64(i+1), name)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	cat := &fakeCatalog{tables: map[string]TableAccess{
		"accounts": {
			Schema:  accountsSchema(),
			Heap:    h,
			Indexes: []catalog.IndexDef{idxDef},
			Trees:   map[string]*btree.Manager{"idx_id": tree},
		},
	}}

	planner := &Planner{Catalog: cat}
	node := &plan.Filter{
		Input: &plan.TableScan{Table: "accounts"},
		Predicate: &plan.Binary{
			Op:    plan.OpEq,
			Left:  &plan.ColumnRef{Table: "accounts", Name: "id"},
			Right: &plan.Literal{Value: types.IntValue(2)},
		},
	}

	it, err := planner.Build(node)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := it.(*IndexScan); !ok {
		t.Fatalf("expected an equality predicate over a unique index to lower to *IndexScan, got %T", it)
	}

	rows := drain(t, it)
	if len(rows) != 1 || string(rows[0].Values[1].Str) != "grace" {
		t.Fatalf("expected a single row for grace, got %v", rows)
	}
}

func TestPlannerJoinOrientationIndependentOfOperandOrder(t *testing.T) {
	cat := &fakeCatalog{tables: map[string]TableAccess{
		"a": {Schema: &types.Schema{Columns: []types.Column{{Name: "id", Kind: types.KindInt}}}},
		"b": {Schema: &types.Schema{Columns: []types.Column{{Name: "a_id", Kind: types.KindInt}}}},
	}}
	planner := &Planner{Catalog: cat}

	// b.a_id = a.id -- operands reversed from the usual "outer = inner" order.
	node := &plan.Join{
		Left:  &plan.TableScan{Table: "a"},
		Right: &plan.TableScan{Table: "b"},
		Type:  plan.InnerJoin,
		On: &plan.Binary{
			Op:    plan.OpEq,
			Left:  &plan.ColumnRef{Table: "b", Name: "a_id"},
			Right: &plan.ColumnRef{Table: "a", Name: "id"},
		},
	}

	it, err := planner.Build(node)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hj, ok := it.(*HashJoin)
	if !ok {
		t.Fatalf("expected reversed-operand equi-join to still lower to *HashJoin, got %T", it)
	}
	outerRef, ok := hj.OuterKey.(*plan.ColumnRef)
	if !ok || outerRef.Table != "a" {
		t.Fatalf("expected OuterKey to resolve to a.id (the left/outer table), got %+v", hj.OuterKey)
	}
	innerRef, ok := hj.InnerKey.(*plan.ColumnRef)
	if !ok || innerRef.Table != "b" {
		t.Fatalf("expected InnerKey to resolve to b.a_id (the right/inner table), got %+v", hj.InnerKey)
	}
}
