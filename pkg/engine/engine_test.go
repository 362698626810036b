package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/quilldb/quill/internal/config"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.BufferPoolSize = 16
	cfg.CheckpointInterval = time.Hour
	cfg.LogLevel = "error"
	return cfg
}

func accountsSchema() types.Schema {
	return types.Schema{
		Columns: []types.Column{
			{Name: "id", Kind: types.KindInt},
			{Name: "name", Kind: types.KindVarchar, VarcharLen: 32},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestCreateTableInsertAndExecute(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if err := eng.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	rows := []types.Tuple{
		{Values: []types.Value{types.IntValue(1), types.VarcharValue("ada")}},
		{Values: []types.Value{types.IntValue(2), types.VarcharValue("grace")}},
	}
	for _, r := range rows {
		if _, err := eng.Insert("accounts", r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := eng.Execute(&plan.TableScan{Table: "accounts"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
}

func TestEngineSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)

	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eng.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := eng.Insert("accounts", types.Tuple{Values: []types.Value{types.IntValue(1), types.VarcharValue("ada")}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Execute(&plan.TableScan{Table: "accounts"})
	if err != nil {
		t.Fatalf("Execute after reopen: %v", err)
	}
	if len(got) != 1 || string(got[0].Values[1].Str) != "ada" {
		t.Fatalf("expected the row committed before close to survive reopen, got %v", got)
	}
}

func TestInsertRollsBackOnConstraintViolation(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if err := eng.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	// Primary-key uniqueness is enforced by a declared unique index, not
	// implicitly from Schema.PrimaryKey alone.
	if err := eng.CreateIndex(catalog.IndexDef{Name: "pk_id", Table: "accounts", Columns: []string{"id"}, Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	dup := types.Tuple{Values: []types.Value{types.IntValue(1), types.VarcharValue("ada")}}
	if _, err := eng.Insert("accounts", dup); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if _, err := eng.Insert("accounts", dup); err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}

	got, err := eng.Execute(&plan.TableScan{Table: "accounts"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the failed insert to leave exactly 1 row, got %d", len(got))
	}
}

func TestStatementErrorInsideExplicitTxnPoisonsIt(t *testing.T) {
	cfg := testConfig(t)
	eng, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if err := eng.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := eng.CreateIndex(catalog.IndexDef{Name: "pk_id", Table: "accounts", Columns: []string{"id"}, Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	tx, err := eng.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	dup := types.Tuple{Values: []types.Value{types.IntValue(1), types.VarcharValue("ada")}}
	if _, err := eng.Insert("accounts", dup); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if _, err := eng.Insert("accounts", dup); err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}

	// The explicit transaction is now poisoned: every further statement must
	// keep failing with TXN_ABORTED until the matching ROLLBACK, not run
	// silently against a fresh implicit transaction.
	grace := types.Tuple{Values: []types.Value{types.IntValue(2), types.VarcharValue("grace")}}
	if _, err := eng.Insert("accounts", grace); err == nil {
		t.Fatal("expected insert against a poisoned explicit transaction to fail")
	} else if !errors.Is(err, dberr.TxnAborted) {
		t.Fatalf("expected TXN_ABORTED, got %v", err)
	}
	if _, err := eng.Begin(); err == nil {
		t.Fatal("expected a nested Begin against a poisoned transaction to fail")
	} else if !errors.Is(err, dberr.TxnAborted) {
		t.Fatalf("expected TXN_ABORTED, got %v", err)
	}

	if err := eng.Rollback(tx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	// After the acknowledging ROLLBACK, statements run normally again, each
	// getting its own fresh implicit transaction. The id=1 row never
	// survives: it was written inside the same explicit transaction the
	// duplicate-key error poisoned, so it was undone along with everything
	// else that transaction touched.
	if _, err := eng.Insert("accounts", grace); err != nil {
		t.Fatalf("Insert after Rollback: %v", err)
	}

	got, err := eng.Execute(&plan.TableScan{Table: "accounts"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the post-rollback insert (id=2) to survive, got %d rows", len(got))
	}
}
