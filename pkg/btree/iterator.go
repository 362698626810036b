// ABOUTME: Range scan iterator: positions at the lowest leaf with key >= low, then walks sibling pointers
// ABOUTME: Yields RIDs lazily; the underlying leaf stays pinned only while the iterator holds it

package btree

import (
	"bytes"
	"sort"

	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/page"
)

// Iterator walks a contiguous key range across leaf sibling pointers.
type Iterator struct {
	mgr *Manager

	high      []byte
	inclusive bool

	handle *buffer.Handle
	node   *page.DecodedNode
	idx    int
	done   bool
}

// Range returns an iterator positioned at the first entry whose key is >=
// low. inclusive controls whether an entry whose key equals high is
// yielded (true) or the scan stops strictly before it (false). A nil low
// starts at the leftmost leaf; a nil high scans to the end of the tree.
func (m *Manager) Range(low, high []byte, inclusive bool) (*Iterator, error) {
	root, err := m.pool.Disk().Root()
	if err != nil {
		return nil, err
	}

	id := root
	var h *buffer.Handle
	var n *page.DecodedNode
	for {
		h, n, err = m.fetchNode(id)
		if err != nil {
			return nil, err
		}
		if n.IsLeaf {
			break
		}
		childIdx := 0
		if low != nil {
			childIdx = findChildIndex(n, low)
		}
		child := n.Children[childIdx]
		m.pool.Unpin(h, false)
		id = child
	}

	startIdx := 0
	if low != nil {
		startIdx = sort.Search(len(n.Keys), func(i int) bool {
			return bytes.Compare(n.Keys[i], low) >= 0
		})
	}

	it := &Iterator{mgr: m, high: high, inclusive: inclusive, handle: h, node: n, idx: startIdx}
	it.skipPastEnd()
	return it, nil
}

// skipPastEnd advances across empty/exhausted leaves and applies the high
// bound, setting done when the scan has nothing left to yield.
func (it *Iterator) skipPastEnd() {
	for {
		if it.idx < len(it.node.Keys) {
			if it.high != nil {
				cmp := bytes.Compare(it.node.Keys[it.idx], it.high)
				if (it.inclusive && cmp > 0) || (!it.inclusive && cmp >= 0) {
					it.finish()
					return
				}
			}
			return
		}
		if it.node.Next == page.InvalidPageID {
			it.finish()
			return
		}
		nextID := it.node.Next
		it.mgr.pool.Unpin(it.handle, false)
		h, n, err := it.mgr.fetchNode(nextID)
		if err != nil {
			it.finish()
			return
		}
		it.handle, it.node, it.idx = h, n, 0
	}
}

func (it *Iterator) finish() {
	if it.handle != nil {
		it.mgr.pool.Unpin(it.handle, false)
		it.handle = nil
	}
	it.done = true
}

// Valid reports whether Key/RID currently reference a live entry.
func (it *Iterator) Valid() bool { return !it.done }

// Key returns the current entry's key.
func (it *Iterator) Key() []byte { return it.node.Keys[it.idx] }

// RID returns the current entry's row id.
func (it *Iterator) RID() page.RID { return it.node.RIDs[it.idx] }

// Next advances to the following entry, returning false when the scan is
// exhausted.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	it.idx++
	it.skipPastEnd()
	return !it.done
}

// Close releases the iterator's pinned leaf, if the caller stops before
// exhausting the range.
func (it *Iterator) Close() {
	if !it.done {
		it.finish()
	}
}
