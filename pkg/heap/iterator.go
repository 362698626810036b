// ABOUTME: Sequential scan over every live tuple in a heap's page chain

package heap

import (
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/page"
	"github.com/quilldb/quill/pkg/types"
)

// Iterator walks every non-deleted, non-forwarded slot across a heap's
// page chain in storage order. It is not a snapshot: each page and its
// slot count are read when the iterator reaches that page, so writes made
// after it was opened can show up in the scan.
type Iterator struct {
	heap   *Heap
	handle *buffer.Handle
	id     page.PageID
	slot   uint16
	done   bool
}

// Scan returns a fresh sequential-scan iterator starting at the heap's
// first page.
func (h *Heap) Scan() (*Iterator, error) {
	root, err := h.pool.Disk().Root()
	if err != nil {
		return nil, err
	}
	it := &Iterator{heap: h, id: root}
	if err := it.loadPage(); err != nil {
		return nil, err
	}
	it.advanceToLive()
	return it, nil
}

func (it *Iterator) loadPage() error {
	handle, err := it.heap.pool.Fetch(it.id)
	if err != nil {
		return err
	}
	it.handle = handle
	it.slot = 0
	return nil
}

// advanceToLive moves forward until slot points at a live tuple or the
// iterator is exhausted.
func (it *Iterator) advanceToLive() {
	for {
		if it.handle == nil {
			it.done = true
			return
		}
		for it.slot < it.handle.Data.NumSlots() {
			if !it.handle.Data.IsDeleted(it.slot) && !it.handle.Data.IsForwarded(it.slot) {
				return
			}
			it.slot++
		}
		next := it.handle.Data.NextPageID()
		it.heap.pool.Unpin(it.handle, false)
		it.handle = nil
		if next == page.InvalidPageID {
			it.done = true
			return
		}
		it.id = next
		if err := it.loadPage(); err != nil {
			it.done = true
			return
		}
	}
}

// Valid reports whether RID/Tuple currently reference a live row.
func (it *Iterator) Valid() bool { return !it.done }

// RID returns the current row's identifier.
func (it *Iterator) RID() page.RID { return page.RID{Page: it.id, Slot: it.slot} }

// Tuple decodes the current row.
func (it *Iterator) Tuple() (types.Tuple, error) {
	raw, _ := it.handle.Data.GetTuple(it.slot)
	return types.DecodeTuple(raw, it.heap.cfg.Schema)
}

// Next advances to the next live row, returning false once exhausted.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	it.slot++
	it.advanceToLive()
	return !it.done
}

// Close releases the iterator's pinned page, if the caller stops early.
func (it *Iterator) Close() {
	if it.handle != nil {
		it.heap.pool.Unpin(it.handle, false)
		it.handle = nil
	}
	it.done = true
}
