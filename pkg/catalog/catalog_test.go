package catalog

import (
	"path/filepath"
	"testing"

	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/disk"
	"github.com/quilldb/quill/pkg/types"
)

func openCatalog(t *testing.T) (*Catalog, func()) {
	t.Helper()
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	pool := buffer.NewPool(d, buffer.Config{Capacity: 16}, nil, nil)
	c, err := Open(pool, nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	return c, func() { d.Close() }
}

func sampleSchema() types.Schema {
	return types.Schema{
		Columns: []types.Column{
			{Name: "id", Kind: types.KindInt},
			{Name: "name", Kind: types.KindVarchar, VarcharLen: 64, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestCreateTableThenLookup(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	if err := c.CreateTable("users", sampleSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	def, err := c.Table("users")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if def.Name != "users" || len(def.Schema.Columns) != 2 {
		t.Fatalf("unexpected table def: %+v", def)
	}
}

func TestCreateTableDuplicateRejected(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	if err := c.CreateTable("users", sampleSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := c.CreateTable("users", sampleSchema()); err == nil {
		t.Fatal("expected an error creating a duplicate table")
	}
}

func TestTableMissingReturnsNotFound(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	if _, err := c.Table("ghost"); err == nil {
		t.Fatal("expected an error for a missing table")
	}
}

func TestTablesListedSorted(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	for _, name := range []string{"zebra", "apple", "mango"} {
		if err := c.CreateTable(name, sampleSchema()); err != nil {
			t.Fatalf("CreateTable(%s): %v", name, err)
		}
	}

	got := c.Tables()
	want := []string{"apple", "mango", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("Tables() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tables()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCreateIndexPersistsOnTableDef(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	if err := c.CreateTable("users", sampleSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	err := c.CreateIndex(IndexDef{Name: "idx_name", Table: "users", Columns: []string{"name"}})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	idxs, err := c.Indexes("users")
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	if len(idxs) != 1 || idxs[0].Name != "idx_name" {
		t.Fatalf("Indexes() = %+v, want one idx_name entry", idxs)
	}
}

func TestCreateIndexOnMissingTableFails(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	err := c.CreateIndex(IndexDef{Name: "idx_x", Table: "ghost", Columns: []string{"x"}})
	if err == nil {
		t.Fatal("expected an error indexing a nonexistent table")
	}
}

func TestCreateIndexDuplicateNameRejected(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	if err := c.CreateTable("users", sampleSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	def := IndexDef{Name: "idx_name", Table: "users", Columns: []string{"name"}}
	if err := c.CreateIndex(def); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := c.CreateIndex(def); err == nil {
		t.Fatal("expected an error for a duplicate index name")
	}
}

func TestCreateViewRoundTrips(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	query := "SELECT id, name FROM users WHERE id > 10"
	if err := c.CreateView("active_users", query); err != nil {
		t.Fatalf("CreateView: %v", err)
	}

	v, err := c.View("active_users")
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if v.Query != query {
		t.Fatalf("View().Query = %q, want %q", v.Query, query)
	}
}

func TestCreateTriggerRegisteredAndFiltered(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	if err := c.CreateTable("users", sampleSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	def := TriggerDef{Name: "trg_audit", Table: "users", Event: "INSERT", Timing: "AFTER", Body: "log_insert()"}
	if err := c.CreateTrigger(def); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	all := c.Triggers("users")
	if len(all) != 1 || all[0].Name != "trg_audit" {
		t.Fatalf("Triggers(users) = %+v, want one trg_audit entry", all)
	}

	matched := c.TriggersFor("users", "INSERT", "AFTER")
	if len(matched) != 1 {
		t.Fatalf("TriggersFor(INSERT,AFTER) = %+v, want one match", matched)
	}
	none := c.TriggersFor("users", "DELETE", "BEFORE")
	if len(none) != 0 {
		t.Fatalf("TriggersFor(DELETE,BEFORE) = %+v, want none", none)
	}
}

func TestCreateTriggerOnMissingTableFails(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	err := c.CreateTrigger(TriggerDef{Name: "trg_x", Table: "ghost", Event: "INSERT", Timing: "BEFORE"})
	if err == nil {
		t.Fatal("expected an error registering a trigger on a nonexistent table")
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.db")

	d1, err := disk.Open(path)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	pool1 := buffer.NewPool(d1, buffer.Config{Capacity: 16}, nil, nil)
	c1, err := Open(pool1, nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	if err := c1.CreateTable("users", sampleSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := c1.CreateView("v1", "SELECT 1"); err != nil {
		t.Fatalf("CreateView: %v", err)
	}
	if err := pool1.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	d1.Close()

	d2, err := disk.Open(path)
	if err != nil {
		t.Fatalf("disk.Open (reopen): %v", err)
	}
	defer d2.Close()
	pool2 := buffer.NewPool(d2, buffer.Config{Capacity: 16}, nil, nil)
	c2, err := Open(pool2, nil)
	if err != nil {
		t.Fatalf("catalog.Open (reopen): %v", err)
	}

	def, err := c2.Table("users")
	if err != nil {
		t.Fatalf("Table after reopen: %v", err)
	}
	if len(def.Schema.Columns) != 2 {
		t.Fatalf("reopened schema has %d columns, want 2", len(def.Schema.Columns))
	}
	if _, err := c2.View("v1"); err != nil {
		t.Fatalf("View after reopen: %v", err)
	}
}

func TestManyTablesSpanMultipleSystemPages(t *testing.T) {
	c, closeFn := openCatalog(t)
	defer closeFn()

	// Enough table records to force the system heap past a single page and
	// exercise the chained-page path in persist.
	const n = 200
	for i := 0; i < n; i++ {
		name := tableName(i)
		if err := c.CreateTable(name, sampleSchema()); err != nil {
			t.Fatalf("CreateTable(%s): %v", name, err)
		}
	}
	if got := len(c.Tables()); got != n {
		t.Fatalf("Tables() has %d entries, want %d", got, n)
	}
}

func tableName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "t_" + string(letters[i%26]) + string(rune('0'+i/26%10)) + string(rune('0'+i%10))
}
