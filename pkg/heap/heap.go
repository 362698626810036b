// ABOUTME: Heap access: tuple storage over a table's page chain plus the
// ABOUTME: row-level enforcement (defaults, NOT NULL, CHECK, indexes, FKs) around it

package heap

import (
	"fmt"
	"sync"

	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/btree"
	"github.com/quilldb/quill/pkg/catalog"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/page"
	"github.com/quilldb/quill/pkg/types"
)

// CheckEvaluator resolves a Column.CheckExpr name against a candidate row.
// The expression language itself lives outside this package (it's whatever
// the statement planner compiles CHECK constraints down to).
type CheckEvaluator interface {
	Evaluate(exprName string, t types.Tuple) (bool, error)
}

// IndexBinding keeps one catalog-declared index's backing tree in sync with
// heap changes. Heap.Insert/Update/Delete walk every binding so that index
// maintenance is atomic with the heap write it accompanies.
type IndexBinding struct {
	Def  catalog.IndexDef
	Tree *btree.Manager
}

func (b *IndexBinding) key(t types.Tuple, schema *types.Schema) []byte {
	return types.EncodeValues(t.KeyValues(schema, b.Def.Columns))
}

// ForeignKey enforces a REFERENCES constraint declared on one column.
// Exists reports whether value is present in the referenced table/column,
// checked on insert and on update of the referencing column. RESTRICT
// reports whether any row still references value, checked before a delete
// or an update that changes the referenced table's key.
type ForeignKey struct {
	Column   string
	Exists   func(v types.Value) (bool, error)
	Restrict func(v types.Value) (bool, error)
}

// Config bundles the pieces a Heap needs beyond the raw page pool.
type Config struct {
	Schema   *types.Schema
	Indexes  []*IndexBinding
	ForeignK []ForeignKey
	Checks   CheckEvaluator
	Hooks    catalog.TriggerHook
	Triggers *catalog.Catalog // used only to look up TriggersFor(table,...)
	Table    string
}

// Heap is one table's tuple storage: a chain of slotted pages reachable from
// the backing pool's meta-page root, plus the constraint/index/trigger
// machinery that must run atomically with every row change.
type Heap struct {
	pool *buffer.Pool
	log  *logger.Logger
	met  *metrics.Metrics
	cfg  Config

	mu        sync.Mutex
	freeSpace map[page.PageID]int // approximate free bytes per page, refreshed lazily
}

// Open attaches a Heap to pool, initializing an empty first page if the
// backing file is fresh.
func Open(pool *buffer.Pool, cfg Config, log *logger.Logger, met *metrics.Metrics) (*Heap, error) {
	h := &Heap{pool: pool, cfg: cfg, met: met, freeSpace: make(map[page.PageID]int)}
	if log != nil {
		h.log = log.DbLogger("heap")
	}

	root, err := pool.Disk().Root()
	if err != nil {
		return nil, err
	}
	if root == page.InvalidPageID {
		handle, err := pool.NewPage()
		if err != nil {
			return nil, err
		}
		page.InitHeap(handle.Data, handle.PageID)
		h.freeSpace[handle.PageID] = handle.Data.FreeSpace()
		pool.Unpin(handle, true)
		if err := pool.Disk().SetRoot(handle.PageID); err != nil {
			return nil, err
		}
		return h, nil
	}

	if err := h.primeFreeSpace(root); err != nil {
		return nil, err
	}
	return h, nil
}

// AddIndex registers a new index binding against this heap's future
// Insert/Update/Delete calls. It does not backfill existing rows — an
// index created over a non-empty table only covers rows written after it's
// added.
func (h *Heap) AddIndex(b *IndexBinding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg.Indexes = append(h.cfg.Indexes, b)
}

func (h *Heap) primeFreeSpace(first page.PageID) error {
	id := first
	for id != page.InvalidPageID {
		handle, err := h.pool.Fetch(id)
		if err != nil {
			return err
		}
		h.freeSpace[id] = handle.Data.FreeSpace()
		next := handle.Data.NextPageID()
		h.pool.Unpin(handle, false)
		id = next
	}
	return nil
}

// prepareRow applies column defaults, coerces types, and enforces NOT
// NULL/CHECK, returning the row ready to encode.
func (h *Heap) prepareRow(t types.Tuple) (types.Tuple, error) {
	schema := h.cfg.Schema
	if len(t.Values) != len(schema.Columns) {
		return t, dberr.New(dberr.KindType, fmt.Sprintf("%s: expected %d columns, got %d", h.cfg.Table, len(schema.Columns), len(t.Values)))
	}
	out := types.Tuple{Values: make([]types.Value, len(t.Values))}
	copy(out.Values, t.Values)

	for i, col := range schema.Columns {
		v := out.Values[i]
		if v.IsNull() && col.HasDefault {
			v = col.Default
			out.Values[i] = v
		}
		if v.IsNull() && !col.Nullable {
			return t, dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s.%s: NOT NULL violated", h.cfg.Table, col.Name))
		}
		if !v.IsNull() && v.Kind != col.Kind {
			return t, dberr.New(dberr.KindType, fmt.Sprintf("%s.%s: expected %s, got %s", h.cfg.Table, col.Name, col.Kind, v.Kind))
		}
		if col.CheckExpr != "" && h.cfg.Checks != nil {
			ok, err := h.cfg.Checks.Evaluate(col.CheckExpr, out)
			if err != nil {
				return t, err
			}
			if !ok {
				return t, dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s.%s: CHECK %s violated", h.cfg.Table, col.Name, col.CheckExpr))
			}
		}
	}
	return out, nil
}

func (h *Heap) checkForeignKeys(t types.Tuple) error {
	for _, fk := range h.cfg.ForeignK {
		idx := h.cfg.Schema.ColumnIndex(fk.Column)
		if idx < 0 || fk.Exists == nil {
			continue
		}
		v := t.Values[idx]
		if v.IsNull() {
			continue
		}
		ok, err := fk.Exists(v)
		if err != nil {
			return err
		}
		if !ok {
			return dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s.%s: referenced value not found", h.cfg.Table, fk.Column))
		}
	}
	return nil
}

func (h *Heap) checkUniqueAndInsertIndexes(t types.Tuple, rid page.RID) error {
	for _, b := range h.cfg.Indexes {
		key := b.key(t, h.cfg.Schema)
		if b.Def.Unique {
			if _, found, err := b.Tree.Search(key); err != nil {
				return err
			} else if found {
				return dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s: unique index %s violated", h.cfg.Table, b.Def.Name))
			}
		}
	}
	for _, b := range h.cfg.Indexes {
		key := b.key(t, h.cfg.Schema)
		if err := b.Tree.Insert(key, rid); err != nil {
			return err
		}
	}
	return nil
}

// Insert validates and stores a new row, returning its RID. BEFORE/AFTER
// INSERT triggers fire around the heap write; index maintenance and
// uniqueness are enforced atomically with it.
func (h *Heap) Insert(t types.Tuple) (page.RID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	row, err := h.prepareRow(t)
	if err != nil {
		return page.RID{}, err
	}
	if err := h.fireTriggers("INSERT", "BEFORE", types.Tuple{}, row); err != nil {
		return page.RID{}, err
	}
	if err := h.checkForeignKeys(row); err != nil {
		return page.RID{}, err
	}

	encoded := types.EncodeTuple(row)
	rid, err := h.insertEncoded(encoded)
	if err != nil {
		return page.RID{}, err
	}

	if err := h.checkUniqueAndInsertIndexes(row, rid); err != nil {
		// Roll back the heap write; the caller's transaction still aborts
		// the statement, but the heap itself must not retain an orphan row.
		_ = h.deleteEncoded(rid)
		return page.RID{}, err
	}
	if err := h.fireTriggers("INSERT", "AFTER", types.Tuple{}, row); err != nil {
		return page.RID{}, err
	}
	return rid, nil
}

func (h *Heap) insertEncoded(encoded []byte) (page.RID, error) {
	root, err := h.pool.Disk().Root()
	if err != nil {
		return page.RID{}, err
	}

	need := len(encoded)
	id := root
	var tail *buffer.Handle
	for {
		handle, err := h.pool.Fetch(id)
		if err != nil {
			return page.RID{}, err
		}
		if slot, ok := handle.Data.InsertTuple(encoded); ok {
			h.freeSpace[id] = handle.Data.FreeSpace()
			h.pool.Unpin(handle, true)
			return page.RID{Page: id, Slot: slot}, nil
		}
		next := handle.Data.NextPageID()
		if next == page.InvalidPageID {
			tail = handle
			break
		}
		h.pool.Unpin(handle, false)
		id = next
	}

	newHandle, err := h.pool.NewPage()
	if err != nil {
		h.pool.Unpin(tail, false)
		return page.RID{}, err
	}
	page.InitHeap(newHandle.Data, newHandle.PageID)
	slot, ok := newHandle.Data.InsertTuple(encoded)
	if !ok {
		h.pool.Unpin(tail, false)
		h.pool.Unpin(newHandle, false)
		return page.RID{}, dberr.New(dberr.KindIO, fmt.Sprintf("%s: tuple of %d bytes too large for an empty page", h.cfg.Table, need))
	}
	tail.Data.SetNextPageID(newHandle.PageID)
	h.freeSpace[newHandle.PageID] = newHandle.Data.FreeSpace()
	h.pool.Unpin(tail, true)
	h.pool.Unpin(newHandle, true)
	return page.RID{Page: newHandle.PageID, Slot: slot}, nil
}

// Get reads the tuple at rid, following a forwarding stub left by an update
// that outgrew its original slot.
func (h *Heap) Get(rid page.RID) (types.Tuple, error) {
	handle, err := h.pool.Fetch(rid.Page)
	if err != nil {
		return types.Tuple{}, err
	}
	defer h.pool.Unpin(handle, false)

	if handle.Data.IsForwarded(rid.Slot) {
		target := handle.Data.ForwardTarget(rid.Slot)
		return h.Get(target)
	}
	raw, ok := handle.Data.GetTuple(rid.Slot)
	if !ok {
		return types.Tuple{}, dberr.New(dberr.KindNotFound, fmt.Sprintf("%s: no tuple at %+v", h.cfg.Table, rid))
	}
	return types.DecodeTuple(raw, h.cfg.Schema)
}

// Update replaces the tuple at rid. A same-size (or smaller) new encoding is
// written in place, preserving rid; an oversized one is relocated and the
// original slot becomes a forwarding stub, per spec.md §4.3.
func (h *Heap) Update(rid page.RID, newValues types.Tuple) (page.RID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	old, err := h.Get(rid)
	if err != nil {
		return page.RID{}, err
	}
	row, err := h.prepareRow(newValues)
	if err != nil {
		return page.RID{}, err
	}
	if err := h.fireTriggers("UPDATE", "BEFORE", old, row); err != nil {
		return page.RID{}, err
	}
	if err := h.checkForeignKeys(row); err != nil {
		return page.RID{}, err
	}
	for _, fk := range h.cfg.ForeignK {
		idx := h.cfg.Schema.ColumnIndex(fk.Column)
		if fk.Restrict == nil || idx < 0 ||
			string(types.EncodeValues(old.Values[idx:idx+1])) == string(types.EncodeValues(row.Values[idx:idx+1])) {
			continue
		}
		referenced, err := fk.Restrict(old.Values[idx])
		if err != nil {
			return page.RID{}, err
		}
		if referenced {
			return page.RID{}, dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s.%s: row is still referenced", h.cfg.Table, fk.Column))
		}
	}

	encoded := types.EncodeTuple(row)
	newRID, err := h.updateEncoded(rid, encoded)
	if err != nil {
		return page.RID{}, err
	}

	if err := h.reindex(old, row, rid, newRID); err != nil {
		return page.RID{}, err
	}
	if err := h.fireTriggers("UPDATE", "AFTER", old, row); err != nil {
		return page.RID{}, err
	}
	return newRID, nil
}

func (h *Heap) updateEncoded(rid page.RID, encoded []byte) (page.RID, error) {
	handle, err := h.pool.Fetch(rid.Page)
	if err != nil {
		return page.RID{}, err
	}
	if handle.Data.UpdateInPlace(rid.Slot, encoded) {
		h.pool.Unpin(handle, true)
		return rid, nil
	}
	h.pool.Unpin(handle, false)

	newRID, err := h.insertEncoded(encoded)
	if err != nil {
		return page.RID{}, err
	}
	handle, err = h.pool.Fetch(rid.Page)
	if err != nil {
		return page.RID{}, err
	}
	handle.Data.SetForward(rid.Slot, newRID)
	h.pool.Unpin(handle, true)
	return newRID, nil
}

func (h *Heap) reindex(old, newRow types.Tuple, oldRID, newRID page.RID) error {
	for _, b := range h.cfg.Indexes {
		oldKey := b.key(old, h.cfg.Schema)
		newKey := b.key(newRow, h.cfg.Schema)
		if err := b.Tree.Delete(oldKey, oldRID); err != nil && dberr.KindOf(err) != dberr.KindNotFound {
			return err
		}
		if b.Def.Unique && oldRID != newRID {
			if _, found, err := b.Tree.Search(newKey); err != nil {
				return err
			} else if found {
				return dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s: unique index %s violated", h.cfg.Table, b.Def.Name))
			}
		}
		if err := b.Tree.Insert(newKey, newRID); err != nil {
			return err
		}
	}
	return nil
}

// Delete tombstones the tuple at rid and removes it from every index,
// after confirming no RESTRICT foreign key still references it.
func (h *Heap) Delete(rid page.RID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	old, err := h.Get(rid)
	if err != nil {
		return err
	}
	if err := h.fireTriggers("DELETE", "BEFORE", old, types.Tuple{}); err != nil {
		return err
	}
	if err := h.checkRestrict(old); err != nil {
		return err
	}

	for _, b := range h.cfg.Indexes {
		key := b.key(old, h.cfg.Schema)
		if err := b.Tree.Delete(key, rid); err != nil && dberr.KindOf(err) != dberr.KindNotFound {
			return err
		}
	}
	if err := h.deleteEncoded(rid); err != nil {
		return err
	}
	return h.fireTriggers("DELETE", "AFTER", old, types.Tuple{})
}

func (h *Heap) checkRestrict(t types.Tuple) error {
	for _, fk := range h.cfg.ForeignK {
		if fk.Restrict == nil {
			continue
		}
		idx := h.cfg.Schema.ColumnIndex(fk.Column)
		if idx < 0 {
			continue
		}
		v := t.Values[idx]
		referenced, err := fk.Restrict(v)
		if err != nil {
			return err
		}
		if referenced {
			return dberr.New(dberr.KindConstraintViolation, fmt.Sprintf("%s.%s: row is still referenced", h.cfg.Table, fk.Column))
		}
	}
	return nil
}

func (h *Heap) deleteEncoded(rid page.RID) error {
	handle, err := h.pool.Fetch(rid.Page)
	if err != nil {
		return err
	}
	handle.Data.DeleteSlot(rid.Slot)
	if handle.Data.FragmentedFraction() > 0.5 {
		handle.Data.Compact()
	}
	h.freeSpace[rid.Page] = handle.Data.FreeSpace()
	h.pool.Unpin(handle, true)
	return nil
}

func (h *Heap) fireTriggers(event, timing string, old, newRow types.Tuple) error {
	if h.cfg.Triggers == nil || h.cfg.Hooks == nil {
		return nil
	}
	for _, def := range h.cfg.Triggers.TriggersFor(h.cfg.Table, event, timing) {
		if err := h.cfg.Hooks.Fire(def, old, newRow); err != nil {
			return err
		}
	}
	return nil
}
