// ABOUTME: Engine is the facade wiring catalog, heap, btree, txn, wal, and
// ABOUTME: exec into Begin/Commit/Rollback/Execute (spec.md's top-level contract)

package engine

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/quilldb/quill/internal/config"
	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/exec"
	"github.com/quilldb/quill/pkg/heap"
	"github.com/quilldb/quill/pkg/page"
	"github.com/quilldb/quill/pkg/plan"
	"github.com/quilldb/quill/pkg/txn"
	"github.com/quilldb/quill/pkg/types"
	"github.com/quilldb/quill/pkg/wal"
)

// openIndex is one opened B+tree index, alongside the catalog definition it
// implements.
type openIndex struct {
	file openFile
	tree *btree.Manager
	def  catalog.IndexDef
}

// openTable is one opened table: its heap, schema, and every index opened
// over it, keyed by index name.
type openTable struct {
	file    openFile
	h       *heap.Heap
	schema  *types.Schema
	indexes map[string]*openIndex
}

// Engine owns every open file of one database directory and is the single
// entry point statements run through. spec.md §5 scopes concurrent
// multi-statement sessions out, so Engine serializes all access behind mu.
type Engine struct {
	cfg config.Config
	log *logger.Logger
	met *metrics.Metrics

	catalogFile openFile
	cat         *catalog.Catalog

	walw *wal.WAL
	txns *txn.Manager
	ckpt *wal.Checkpointer

	mu     sync.Mutex
	tables map[string]*openTable
}

// Open opens an existing database directory or initializes a fresh one,
// replaying the WAL against every file it finds (spec.md §4.8).
func Open(cfg config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "create data directory", err)
	}

	log := logger.NewLogger(cfg.Logger())
	met := metrics.NewMetrics()
	log.LogEngineStart(cfg.DataDir, cfg.BufferPoolSize)

	walw := &wal.WAL{Path: filepath.Join(cfg.DataDir, "quill.wal")}
	if err := walw.Open(); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "open write-ahead log", err)
	}

	txns := txn.NewManager(walw, log, met)

	catalogFile, err := openBackingFile(filepath.Join(cfg.DataDir, "catalog.db"), cfg.BufferPoolSize, log, met, txns)
	if err != nil {
		walw.Close()
		return nil, err
	}
	cat, err := catalog.Open(catalogFile.pool, log)
	if err != nil {
		walw.Close()
		catalogFile.close()
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		met:         met,
		catalogFile: catalogFile,
		cat:         cat,
		walw:        walw,
		txns:        txns,
		tables:      make(map[string]*openTable),
	}

	for _, name := range cat.Tables() {
		if _, err := e.openTable(name); err != nil {
			e.Close()
			return nil, err
		}
	}

	if err := e.recover(); err != nil {
		e.Close()
		return nil, err
	}

	e.ckpt = wal.NewCheckpointer(walw, e.flushAll, e.log)
	e.ckpt.SetInterval(cfg.CheckpointInterval)
	e.ckpt.Start()

	log.LogEngineReady()
	return e, nil
}

// recover replays the WAL against every currently open file. It runs once,
// at startup, before any statement executes — exactly the restart sequence
// spec.md §4.8 describes; there is no separate "recovery mode", the engine
// is simply not ready to serve statements until this returns.
func (e *Engine) recover() error {
	rec := wal.NewRecovery(e.walw, nil)
	rec.WithStore(e.catalogFile.fileID, e.catalogFile.recoveryStore())
	for _, t := range e.tables {
		rec.WithStore(t.file.fileID, t.file.recoveryStore())
		for _, idx := range t.indexes {
			rec.WithStore(idx.file.fileID, idx.file.recoveryStore())
		}
	}
	stats, err := rec.Recover()
	if err != nil {
		return dberr.Wrap(dberr.KindIO, "wal recovery", err)
	}
	if e.log != nil && stats.TotalEntries > 0 {
		e.log.Info("recovery complete").
			Int("redo_applied", stats.RedoApplied).
			Int("undo_applied", stats.UndoApplied).
			Int("committed_txns", stats.CommittedTxns).
			Int("loser_txns", stats.LooserTxns).
			Msg("wal replay")
	}
	return e.flushAll()
}

// flushAll writes every dirty buffered page back to its backing file. Used
// both as the checkpointer's flush step and to persist recovery's redo/undo
// results before the engine starts serving statements.
func (e *Engine) flushAll() error {
	if err := e.catalogFile.pool.FlushAll(); err != nil {
		return err
	}
	for _, t := range e.tables {
		if err := t.file.pool.FlushAll(); err != nil {
			return err
		}
		for _, idx := range t.indexes {
			if err := idx.file.pool.FlushAll(); err != nil {
				return err
			}
		}
	}
	return nil
}

// openTable opens name's heap file and every index declared over it in the
// catalog, wiring each index into the heap's Config so inserts/updates/
// deletes maintain them atomically (pkg/heap's IndexBinding machinery).
func (e *Engine) openTable(name string) (*openTable, error) {
	def, err := e.cat.Table(name)
	if err != nil {
		return nil, err
	}

	file, err := openBackingFile(heapFilePath(e.cfg.DataDir, name), e.cfg.BufferPoolSize, e.log, e.met, e.txns)
	if err != nil {
		return nil, err
	}

	t := &openTable{file: file, schema: &def.Schema, indexes: make(map[string]*openIndex)}

	var bindings []*heap.IndexBinding
	for _, idxDef := range def.Indexes {
		idxFile, err := openBackingFile(indexFilePath(e.cfg.DataDir, name, idxDef.Name), e.cfg.BufferPoolSize, e.log, e.met, e.txns)
		if err != nil {
			return nil, err
		}
		tree, err := btree.Open(idxFile.pool, e.log, e.met)
		if err != nil {
			return nil, err
		}
		t.indexes[idxDef.Name] = &openIndex{file: idxFile, tree: tree, def: idxDef}
		bindings = append(bindings, &heap.IndexBinding{Def: idxDef, Tree: tree})
	}

	cfg := heap.Config{Schema: &def.Schema, Indexes: bindings, Triggers: e.cat, Table: name}
	h, err := heap.Open(file.pool, cfg, e.log, e.met)
	if err != nil {
		return nil, err
	}
	t.h = h

	e.tables[name] = t
	return t, nil
}

// CreateTable registers a new table's schema and opens its (initially
// empty) heap file.
func (e *Engine) CreateTable(name string, schema types.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cat.CreateTable(name, schema); err != nil {
		return err
	}
	_, err := e.openTable(name)
	return err
}

// CreateIndex registers and opens a new B+tree index over an existing
// table. The index starts empty; spec.md leaves backfilling an index
// created over a non-empty table to a later statement, not this call.
func (e *Engine) CreateIndex(def catalog.IndexDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[def.Table]
	if !ok {
		return dberr.New(dberr.KindNotFound, "no such table: "+def.Table)
	}
	if err := e.cat.CreateIndex(def); err != nil {
		return err
	}

	idxFile, err := openBackingFile(indexFilePath(e.cfg.DataDir, def.Table, def.Name), e.cfg.BufferPoolSize, e.log, e.met, e.txns)
	if err != nil {
		return err
	}
	tree, err := btree.Open(idxFile.pool, e.log, e.met)
	if err != nil {
		return err
	}
	binding := &heap.IndexBinding{Def: def, Tree: tree}
	t.indexes[def.Name] = &openIndex{file: idxFile, tree: tree, def: def}
	t.h.AddIndex(binding)
	return nil
}

// CreateView registers a view's stored SELECT text.
func (e *Engine) CreateView(name, query string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cat.CreateView(name, query)
}

// CreateTrigger registers a trigger against an existing table.
func (e *Engine) CreateTrigger(def catalog.TriggerDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[def.Table]; !ok {
		return dberr.New(dberr.KindNotFound, "no such table: "+def.Table)
	}
	return e.cat.CreateTrigger(def)
}

// Begin starts an explicit transaction (a SQL BEGIN statement). Statements
// issued before the matching COMMIT/ROLLBACK run inside it instead of each
// getting their own implicit transaction (spec.md §7).
func (e *Engine) Begin() (*txn.Txn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txns.Begin()
}

// Commit ends the active explicit transaction.
func (e *Engine) Commit(t *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txns.Commit(t)
}

// Rollback aborts the active explicit transaction.
func (e *Engine) Rollback(t *txn.Txn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txns.Rollback(t)
}

// withStatementTxn runs fn inside the currently active explicit
// transaction, or inside a fresh implicit one that's committed (or rolled
// back, on error) before returning — spec.md §7's "every statement runs in
// a transaction, explicit or not". A statement that fails inside an
// explicit transaction aborts that transaction rather than leaving it
// active: spec.md §7 requires every later statement to keep failing with
// TXN_ABORTED until the caller issues the matching ROLLBACK, so Begin
// rejects a new implicit (or explicit) transaction while the poisoned one
// is still waiting to be acknowledged.
func (e *Engine) withStatementTxn(fn func() error) error {
	if t := e.txns.Active(); t != nil {
		if err := fn(); err != nil {
			if abortErr := e.txns.AbortActive(t); abortErr != nil && e.log != nil {
				e.log.Error("abort after statement error failed").Err(abortErr).Msg("")
			}
			return err
		}
		return nil
	}

	t, err := e.txns.Begin()
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := e.txns.Rollback(t); rbErr != nil && e.log != nil {
			e.log.Error("rollback after statement error failed").Err(rbErr).Msg("")
		}
		return err
	}
	return e.txns.Commit(t)
}

// Insert appends a row to table, maintaining its indexes, foreign keys,
// and triggers, inside a statement-scoped transaction.
func (e *Engine) Insert(table string, values types.Tuple) (page.RID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[table]
	if !ok {
		return page.RID{}, dberr.New(dberr.KindNotFound, "no such table: "+table)
	}
	var rid page.RID
	err := e.withStatementTxn(func() error {
		var insertErr error
		rid, insertErr = t.h.Insert(values)
		return insertErr
	})
	return rid, err
}

// Update overwrites the row at rid with newValues.
func (e *Engine) Update(table string, rid page.RID, newValues types.Tuple) (page.RID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[table]
	if !ok {
		return page.RID{}, dberr.New(dberr.KindNotFound, "no such table: "+table)
	}
	var newRID page.RID
	err := e.withStatementTxn(func() error {
		var updateErr error
		newRID, updateErr = t.h.Update(rid, newValues)
		return updateErr
	})
	return newRID, err
}

// Delete removes the row at rid.
func (e *Engine) Delete(table string, rid page.RID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tables[table]
	if !ok {
		return dberr.New(dberr.KindNotFound, "no such table: "+table)
	}
	return e.withStatementTxn(func() error {
		return t.h.Delete(rid)
	})
}

// Execute plans and runs a read-only logical query, returning every
// resulting row. Writes reach the engine through Insert/Update/Delete
// rather than through this path; spec.md's plan.Node tree covers SELECT
// shapes only.
func (e *Engine) Execute(node plan.Node) ([]exec.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	planner := &exec.Planner{Catalog: &catalogAdapter{e: e}}
	planner.Sub = &subqueryRunner{planner: planner}

	var rows []exec.Row
	err := e.withStatementTxn(func() error {
		it, err := planner.Build(node)
		if err != nil {
			return err
		}
		if err := it.Open(); err != nil {
			return err
		}
		defer it.Close()
		for {
			row, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			rows = append(rows, row.Clone())
		}
	})
	return rows, err
}

// Close stops the checkpointer and closes every open backing file and the
// WAL.
func (e *Engine) Close() error {
	if e.ckpt != nil {
		e.ckpt.Stop()
	}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, t := range e.tables {
		for _, idx := range t.indexes {
			record(idx.file.close())
		}
		record(t.file.close())
	}
	record(e.catalogFile.close())
	record(e.walw.Close())
	if e.log != nil {
		e.log.LogEngineShutdown()
	}
	return firstErr
}
