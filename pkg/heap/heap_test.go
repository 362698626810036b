package heap

import (
	"path/filepath"
	"testing"

	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/disk"
	"github.com/quilldb/quill/pkg/types"
)

func openPool(t *testing.T, name string, capacity int) *buffer.Pool {
	t.Helper()
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return buffer.NewPool(d, buffer.Config{Capacity: capacity}, nil, nil)
}

func usersSchema() *types.Schema {
	return &types.Schema{
		Columns: []types.Column{
			{Name: "id", Kind: types.KindInt},
			{Name: "name", Kind: types.KindVarchar, VarcharLen: 64},
			{Name: "bio", Kind: types.KindText, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func row(id int64, name string) types.Tuple {
	return types.Tuple{Values: []types.Value{
		types.IntValue(id),
		types.VarcharValue(name),
		types.NullValue(),
	}}
}

func openHeap(t *testing.T, cfg Config) *Heap {
	t.Helper()
	if cfg.Schema == nil {
		cfg.Schema = usersSchema()
	}
	if cfg.Table == "" {
		cfg.Table = "users"
	}
	h, err := Open(openPool(t, "heap.db", 32), cfg, nil, nil)
	if err != nil {
		t.Fatalf("heap.Open: %v", err)
	}
	return h
}

func TestInsertThenGet(t *testing.T) {
	h := openHeap(t, Config{})
	rid, err := h.Insert(row(1, "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Values[0].I64 != 1 || string(got.Values[1].Str) != "ada" {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestInsertRejectsWrongColumnCount(t *testing.T) {
	h := openHeap(t, Config{})
	_, err := h.Insert(types.Tuple{Values: []types.Value{types.IntValue(1)}})
	if dberr.KindOf(err) != dberr.KindType {
		t.Fatalf("err = %v, want KindType", err)
	}
}

func TestInsertRejectsNotNullViolation(t *testing.T) {
	h := openHeap(t, Config{})
	tup := types.Tuple{Values: []types.Value{
		types.IntValue(1),
		types.NullValue(),
		types.NullValue(),
	}}
	_, err := h.Insert(tup)
	if dberr.KindOf(err) != dberr.KindConstraintViolation {
		t.Fatalf("err = %v, want KindConstraintViolation", err)
	}
}

func TestInsertAppliesDefault(t *testing.T) {
	schema := usersSchema()
	schema.Columns[2] = types.Column{Name: "bio", Kind: types.KindText, Nullable: true, HasDefault: true, Default: types.TextValue("n/a")}
	h := openHeap(t, Config{Schema: schema})

	rid, err := h.Insert(row(1, "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Values[2].Str) != "n/a" {
		t.Fatalf("Values[2] = %q, want default n/a", got.Values[2].Str)
	}
}

func TestUpdateInPlaceKeepsRID(t *testing.T) {
	h := openHeap(t, Config{})
	rid, err := h.Insert(row(1, "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	newRID, err := h.Update(rid, row(1, "eve"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newRID != rid {
		t.Fatalf("Update relocated a same-size row: got %+v, want %+v", newRID, rid)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Values[1].Str) != "eve" {
		t.Fatalf("Get() after update = %+v", got)
	}
}

func TestUpdateRelocatesOversizedRowAndForwards(t *testing.T) {
	h := openHeap(t, Config{})
	rid, err := h.Insert(row(1, "a"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'x'
	}
	newRID, err := h.Update(rid, types.Tuple{Values: []types.Value{
		types.IntValue(1), {Kind: types.KindVarchar, Str: big}, types.NullValue(),
	}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newRID == rid {
		t.Fatal("expected the oversized update to relocate")
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get through forwarding stub: %v", err)
	}
	if len(got.Values[1].Str) != 2000 {
		t.Fatalf("Get() through forward returned %d bytes, want 2000", len(got.Values[1].Str))
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	h := openHeap(t, Config{})
	rid, err := h.Insert(row(1, "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := h.Delete(rid); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.Get(rid); dberr.KindOf(err) != dberr.KindNotFound {
		t.Fatalf("Get after delete = %v, want KindNotFound", err)
	}
}

func TestScanSkipsDeletedRows(t *testing.T) {
	h := openHeap(t, Config{})
	r1, _ := h.Insert(row(1, "ada"))
	_, err := h.Insert(row(2, "grace"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := h.Delete(r1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	it, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()

	var seen []int64
	for it.Valid() {
		tup, err := it.Tuple()
		if err != nil {
			t.Fatalf("Tuple: %v", err)
		}
		seen = append(seen, tup.Values[0].I64)
		if !it.Next() {
			break
		}
	}
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("Scan() = %v, want [2]", seen)
	}
}

func TestScanAcrossManyRowsSpansPages(t *testing.T) {
	h := openHeap(t, Config{})
	const n = 300
	for i := 0; i < n; i++ {
		if _, err := h.Insert(row(int64(i), "name-value-padded-out-a-bit")); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	it, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()

	count := 0
	for it.Valid() {
		count++
		if !it.Next() {
			break
		}
	}
	if count != n {
		t.Fatalf("Scan() yielded %d rows, want %d", count, n)
	}
}

func openIndex(t *testing.T, name string) *btree.Manager {
	t.Helper()
	pool := openPool(t, name, 32)
	m, err := btree.Open(pool, nil, nil)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	return m
}

func TestUniqueIndexRejectsDuplicateAndRollsBackHeapWrite(t *testing.T) {
	tree := openIndex(t, "idx.db")
	binding := &IndexBinding{
		Def:  catalog.IndexDef{Name: "uq_name", Table: "users", Columns: []string{"name"}, Unique: true},
		Tree: tree,
	}
	h := openHeap(t, Config{Indexes: []*IndexBinding{binding}})

	if _, err := h.Insert(row(1, "ada")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := h.Insert(row(2, "ada")); dberr.KindOf(err) != dberr.KindConstraintViolation {
		t.Fatalf("second insert err = %v, want KindConstraintViolation", err)
	}

	// Scan must show only the first row; the rejected insert's heap write
	// must have been rolled back rather than left as an unindexed orphan.
	it, err := h.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer it.Close()
	count := 0
	for it.Valid() {
		count++
		if !it.Next() {
			break
		}
	}
	if count != 1 {
		t.Fatalf("Scan() after rejected insert = %d rows, want 1", count)
	}
}

func TestIndexLookupFindsInsertedRow(t *testing.T) {
	tree := openIndex(t, "idx.db")
	binding := &IndexBinding{
		Def:  catalog.IndexDef{Name: "idx_name", Table: "users", Columns: []string{"name"}},
		Tree: tree,
	}
	h := openHeap(t, Config{Indexes: []*IndexBinding{binding}})

	rid, err := h.Insert(row(1, "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	key := types.EncodeValues([]types.Value{types.VarcharValue("ada")})
	gotRID, ok, err := tree.Search(key)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !ok || gotRID != rid {
		t.Fatalf("Search() = %+v, ok=%v, want %+v", gotRID, ok, rid)
	}
}

func TestForeignKeyExistsRejectsInsert(t *testing.T) {
	fk := ForeignKey{
		Column: "id",
		Exists: func(v types.Value) (bool, error) { return false, nil },
	}
	h := openHeap(t, Config{ForeignK: []ForeignKey{fk}})
	if _, err := h.Insert(row(1, "ada")); dberr.KindOf(err) != dberr.KindConstraintViolation {
		t.Fatalf("err = %v, want KindConstraintViolation", err)
	}
}

func TestForeignKeyRestrictBlocksDelete(t *testing.T) {
	fk := ForeignKey{
		Column:   "id",
		Exists:   func(v types.Value) (bool, error) { return true, nil },
		Restrict: func(v types.Value) (bool, error) { return true, nil },
	}
	h := openHeap(t, Config{ForeignK: []ForeignKey{fk}})
	rid, err := h.Insert(row(1, "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := h.Delete(rid); dberr.KindOf(err) != dberr.KindConstraintViolation {
		t.Fatalf("Delete err = %v, want KindConstraintViolation", err)
	}
}

type recordingHook struct {
	fired []string
}

func (r *recordingHook) Fire(def *catalog.TriggerDef, old, newRow types.Tuple) error {
	r.fired = append(r.fired, def.Timing+" "+def.Event)
	return nil
}

func TestTriggersFireAroundInsert(t *testing.T) {
	cat, err := catalog.Open(openPool(t, "cat.db", 16), nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	if err := cat.CreateTable("users", *usersSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := cat.CreateTrigger(catalog.TriggerDef{Name: "t1", Table: "users", Event: "INSERT", Timing: "BEFORE"}); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	if err := cat.CreateTrigger(catalog.TriggerDef{Name: "t2", Table: "users", Event: "INSERT", Timing: "AFTER"}); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	hook := &recordingHook{}
	h := openHeap(t, Config{Triggers: cat, Hooks: hook})
	if _, err := h.Insert(row(1, "ada")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(hook.fired) != 2 || hook.fired[0] != "BEFORE INSERT" || hook.fired[1] != "AFTER INSERT" {
		t.Fatalf("fired = %v, want [BEFORE INSERT, AFTER INSERT]", hook.fired)
	}
}
