// ABOUTME: B+tree index manager: search, range scan, insert, delete over a buffer-pool-backed page file
// ABOUTME: Splits propagate upward on insert; borrow/merge propagate upward on delete, per spec.md §4.4

package btree

import (
	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/page"
)

// Manager is one B+tree index living in a buffer-pool-backed file. The
// file's meta page root pointer (disk.Manager.Root/SetRoot) doubles as the
// tree's root page id.
type Manager struct {
	pool *buffer.Pool
	log  *logger.Logger
	met  *metrics.Metrics
}

// Open attaches a B+tree manager to pool, creating an empty leaf root if the
// backing file has none yet (spec.md §4.4: "empty tree represented by a
// single empty leaf root").
func Open(pool *buffer.Pool, log *logger.Logger, met *metrics.Metrics) (*Manager, error) {
	m := &Manager{pool: pool, met: met}
	if log != nil {
		m.log = log.DbLogger("btree")
	}

	root, err := pool.Disk().Root()
	if err != nil {
		return nil, err
	}
	if root != page.InvalidPageID {
		return m, nil
	}

	h, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	leaf := &page.DecodedNode{ID: h.PageID, IsLeaf: true, Parent: page.InvalidPageID}
	if err := page.EncodeBTreeNode(h.Data, leaf); err != nil {
		pool.Unpin(h, false)
		return nil, err
	}
	pool.Unpin(h, true)

	if err := pool.Disk().SetRoot(h.PageID); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) fetchNode(id page.PageID) (*buffer.Handle, *page.DecodedNode, error) {
	h, err := m.pool.Fetch(id)
	if err != nil {
		return nil, nil, err
	}
	n, err := page.DecodeBTreeNode(h.Data)
	if err != nil {
		m.pool.Unpin(h, false)
		return nil, nil, err
	}
	return h, n, nil
}

func (m *Manager) putNode(h *buffer.Handle, n *page.DecodedNode) error {
	if err := page.EncodeBTreeNode(h.Data, n); err != nil {
		m.pool.Unpin(h, false)
		return err
	}
	m.pool.Unpin(h, true)
	return nil
}

// Search returns the first RID stored under key (the only one, for a
// unique index), or ok=false if key isn't present.
func (m *Manager) Search(key []byte) (page.RID, bool, error) {
	root, err := m.pool.Disk().Root()
	if err != nil {
		return page.RID{}, false, err
	}

	id := root
	for {
		h, n, err := m.fetchNode(id)
		if err != nil {
			return page.RID{}, false, err
		}
		if n.IsLeaf {
			idx := findFirstKey(n, key)
			if idx < 0 {
				m.pool.Unpin(h, false)
				return page.RID{}, false, nil
			}
			rid := n.RIDs[idx]
			m.pool.Unpin(h, false)
			return rid, true, nil
		}
		childIdx := findChildIndex(n, key)
		child := n.Children[childIdx]
		m.pool.Unpin(h, false)
		id = child
	}
}

// Insert adds (key, rid), splitting nodes up to the root as needed.
func (m *Manager) Insert(key []byte, rid page.RID) error {
	root, err := m.pool.Disk().Root()
	if err != nil {
		return err
	}

	promoted, newRight, err := m.insertInto(root, key, rid)
	if err != nil {
		return err
	}
	if newRight == page.InvalidPageID {
		return nil
	}

	// The root split: build a fresh internal root over {root, newRight}.
	newRootHandle, err := m.pool.NewPage()
	if err != nil {
		return err
	}
	newRoot := &page.DecodedNode{
		ID:       newRootHandle.PageID,
		IsLeaf:   false,
		Parent:   page.InvalidPageID,
		Keys:     [][]byte{promoted},
		Children: []page.PageID{root, newRight},
	}
	if err := m.putNode(newRootHandle, newRoot); err != nil {
		return err
	}

	for _, child := range []page.PageID{root, newRight} {
		if err := m.setParent(child, newRoot.ID); err != nil {
			return err
		}
	}

	if m.met != nil {
		m.met.RecordBtreeSplit()
	}
	return m.pool.Disk().SetRoot(newRoot.ID)
}

func (m *Manager) setParent(id, parent page.PageID) error {
	h, n, err := m.fetchNode(id)
	if err != nil {
		return err
	}
	n.Parent = parent
	return m.putNode(h, n)
}

// insertInto recurses to the target leaf, inserts, and propagates a split
// upward. It returns a non-zero promoted key / newRight page id when the
// caller (the parent, or Insert for the root) must link in a new sibling.
func (m *Manager) insertInto(id page.PageID, key []byte, rid page.RID) ([]byte, page.PageID, error) {
	h, n, err := m.fetchNode(id)
	if err != nil {
		return nil, page.InvalidPageID, err
	}

	if n.IsLeaf {
		insertLeafEntry(n, key, rid)
		if fits(n) {
			return nil, page.InvalidPageID, m.putNode(h, n)
		}

		rightHandle, err := m.pool.NewPage()
		if err != nil {
			m.pool.Unpin(h, false)
			return nil, page.InvalidPageID, err
		}
		right, separator := splitLeaf(n)
		right.ID = rightHandle.PageID
		n.Next = right.ID

		if err := m.putNode(h, n); err != nil {
			return nil, page.InvalidPageID, err
		}
		if err := m.putNode(rightHandle, right); err != nil {
			return nil, page.InvalidPageID, err
		}
		if m.met != nil {
			m.met.RecordBtreeSplit()
		}
		return separator, right.ID, nil
	}

	childIdx := findChildIndex(n, key)
	childID := n.Children[childIdx]
	m.pool.Unpin(h, false)

	promoted, newRight, err := m.insertInto(childID, key, rid)
	if err != nil {
		return nil, page.InvalidPageID, err
	}
	if newRight == page.InvalidPageID {
		return nil, page.InvalidPageID, nil
	}

	h2, n2, err := m.fetchNode(id)
	if err != nil {
		return nil, page.InvalidPageID, err
	}
	insertInternalEntry(n2, childIdx, promoted, newRight)
	if err := m.setParent(newRight, n2.ID); err != nil {
		m.pool.Unpin(h2, false)
		return nil, page.InvalidPageID, err
	}

	if fits(n2) {
		return nil, page.InvalidPageID, m.putNode(h2, n2)
	}

	rightHandle, err := m.pool.NewPage()
	if err != nil {
		m.pool.Unpin(h2, false)
		return nil, page.InvalidPageID, err
	}
	right, separator := splitInternal(n2)
	right.ID = rightHandle.PageID

	if err := m.putNode(h2, n2); err != nil {
		return nil, page.InvalidPageID, err
	}
	if err := m.putNode(rightHandle, right); err != nil {
		return nil, page.InvalidPageID, err
	}
	for _, grandchild := range right.Children {
		if err := m.setParent(grandchild, right.ID); err != nil {
			return nil, page.InvalidPageID, err
		}
	}
	if m.met != nil {
		m.met.RecordBtreeSplit()
	}
	return separator, right.ID, nil
}

// Delete removes the exact (key, rid) pair, merging or borrowing on
// underflow and contracting the root when it drops to one child.
func (m *Manager) Delete(key []byte, rid page.RID) error {
	root, err := m.pool.Disk().Root()
	if err != nil {
		return err
	}

	removed, _, err := m.deleteFrom(root, root, key, rid)
	if err != nil {
		return err
	}
	if !removed {
		return dberr.New(dberr.KindNotFound, "btree: key/rid pair not found")
	}

	// Root contraction: an internal root with no separators left has
	// exactly one child; that child becomes the new root.
	h, n, err := m.fetchNode(root)
	if err != nil {
		return err
	}
	if !n.IsLeaf && len(n.Keys) == 0 {
		onlyChild := n.Children[0]
		m.pool.Unpin(h, false)
		if err := m.setParent(onlyChild, page.InvalidPageID); err != nil {
			return err
		}
		if err := m.pool.Disk().SetRoot(onlyChild); err != nil {
			return err
		}
		return m.pool.Disk().FreePage(root)
	}
	m.pool.Unpin(h, false)
	return nil
}

// deleteFrom recurses to the leaf holding (key, rid), removes it, and fixes
// up underflow in the parent on the way back. rootID lets every level know
// whether it's exempt from the occupancy floor.
func (m *Manager) deleteFrom(id, rootID page.PageID, key []byte, rid page.RID) (removed bool, underflowed bool, err error) {
	h, n, err := m.fetchNode(id)
	if err != nil {
		return false, false, err
	}

	if n.IsLeaf {
		idx := findLeafEntry(n, key, rid)
		if idx < 0 {
			m.pool.Unpin(h, false)
			return false, false, nil
		}
		removeLeafEntry(n, idx)
		if err := m.putNode(h, n); err != nil {
			return false, false, err
		}
		return true, id != rootID && underfull(n), nil
	}

	childIdx := findChildIndex(n, key)
	childID := n.Children[childIdx]
	m.pool.Unpin(h, false)

	removed, childUnderflow, err := m.deleteFrom(childID, rootID, key, rid)
	if err != nil || !removed {
		return removed, false, err
	}
	if !childUnderflow {
		return true, false, nil
	}

	h2, n2, err := m.fetchNode(id)
	if err != nil {
		return true, false, err
	}
	if err := m.fixUnderflow(n2, childIdx); err != nil {
		m.pool.Unpin(h2, false)
		return true, false, err
	}
	selfUnderflow := id != rootID && underfull(n2)
	if err := m.putNode(h2, n2); err != nil {
		return true, false, err
	}
	return true, selfUnderflow, nil
}

// fixUnderflow repairs n.Children[idx] by borrowing from a sibling or
// merging with one, updating n's own separators and children in place.
func (m *Manager) fixUnderflow(n *page.DecodedNode, idx int) error {
	childH, child, err := m.fetchNode(n.Children[idx])
	if err != nil {
		return err
	}

	if idx > 0 {
		leftH, left, err := m.fetchNode(n.Children[idx-1])
		if err != nil {
			m.pool.Unpin(childH, false)
			return err
		}
		if !underfull(left) {
			moved := borrowFromLeft(n, idx, left, child)
			if moved != page.InvalidPageID {
				if err := m.setParent(moved, child.ID); err != nil {
					m.pool.Unpin(leftH, false)
					m.pool.Unpin(childH, false)
					return err
				}
			}
			if err := m.putNode(leftH, left); err != nil {
				m.pool.Unpin(childH, false)
				return err
			}
			return m.putNode(childH, child)
		}
		m.pool.Unpin(leftH, false)
	}

	if idx < len(n.Children)-1 {
		rightH, right, err := m.fetchNode(n.Children[idx+1])
		if err != nil {
			m.pool.Unpin(childH, false)
			return err
		}
		if !underfull(right) {
			moved := borrowFromRight(n, idx, child, right)
			if moved != page.InvalidPageID {
				if err := m.setParent(moved, child.ID); err != nil {
					m.pool.Unpin(rightH, false)
					m.pool.Unpin(childH, false)
					return err
				}
			}
			if err := m.putNode(childH, child); err != nil {
				m.pool.Unpin(rightH, false)
				return err
			}
			return m.putNode(rightH, right)
		}
		m.pool.Unpin(rightH, false)
	}

	// Both siblings (or the only sibling) are minimal: merge.
	if idx > 0 {
		leftH, left, err := m.fetchNode(n.Children[idx-1])
		if err != nil {
			m.pool.Unpin(childH, false)
			return err
		}
		sep := n.Keys[idx-1]
		if child.IsLeaf {
			mergeLeaves(left, child)
		} else {
			mergeInternal(left, child, sep)
			for _, grandchild := range child.Children {
				if err := m.setParent(grandchild, left.ID); err != nil {
					m.pool.Unpin(leftH, false)
					m.pool.Unpin(childH, false)
					return err
				}
			}
		}
		n.Keys = append(n.Keys[:idx-1], n.Keys[idx:]...)
		n.Children = append(n.Children[:idx], n.Children[idx+1:]...)
		if err := m.putNode(leftH, left); err != nil {
			m.pool.Unpin(childH, false)
			return err
		}
		m.pool.Unpin(childH, false)
		if m.met != nil {
			m.met.RecordBtreeMerge()
		}
		return m.pool.Disk().FreePage(child.ID)
	}

	rightH, right, err := m.fetchNode(n.Children[idx+1])
	if err != nil {
		m.pool.Unpin(childH, false)
		return err
	}
	sep := n.Keys[idx]
	if child.IsLeaf {
		mergeLeaves(child, right)
	} else {
		mergeInternal(child, right, sep)
		for _, grandchild := range right.Children {
			if err := m.setParent(grandchild, child.ID); err != nil {
				m.pool.Unpin(rightH, false)
				m.pool.Unpin(childH, false)
				return err
			}
		}
	}
	n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
	n.Children = append(n.Children[:idx+1], n.Children[idx+2:]...)
	if err := m.putNode(childH, child); err != nil {
		m.pool.Unpin(rightH, false)
		return err
	}
	m.pool.Unpin(rightH, false)
	if m.met != nil {
		m.met.RecordBtreeMerge()
	}
	return m.pool.Disk().FreePage(right.ID)
}

// borrowFromLeft moves left's last key (and, for an internal node, its
// last child pointer) onto the front of child. It returns the PageID of
// a child pointer that moved, or page.InvalidPageID if none did (the
// leaf case), so the caller can fix that child's stale Parent pointer.
func borrowFromLeft(parent *page.DecodedNode, idx int, left, child *page.DecodedNode) page.PageID {
	if child.IsLeaf {
		last := len(left.Keys) - 1
		child.Keys = append([][]byte{left.Keys[last]}, child.Keys...)
		child.RIDs = append([]page.RID{left.RIDs[last]}, child.RIDs...)
		left.Keys = left.Keys[:last]
		left.RIDs = left.RIDs[:last]
		parent.Keys[idx-1] = child.Keys[0]
		return page.InvalidPageID
	}
	last := len(left.Keys) - 1
	borrowedChild := left.Children[len(left.Children)-1]
	child.Keys = append([][]byte{parent.Keys[idx-1]}, child.Keys...)
	child.Children = append([]page.PageID{borrowedChild}, child.Children...)
	parent.Keys[idx-1] = left.Keys[last]
	left.Keys = left.Keys[:last]
	left.Children = left.Children[:len(left.Children)-1]
	return borrowedChild
}

// borrowFromRight is the mirror of borrowFromLeft, moving right's first
// key/child onto the back of child. Same InvalidPageID convention.
func borrowFromRight(parent *page.DecodedNode, idx int, child, right *page.DecodedNode) page.PageID {
	if child.IsLeaf {
		child.Keys = append(child.Keys, right.Keys[0])
		child.RIDs = append(child.RIDs, right.RIDs[0])
		right.Keys = right.Keys[1:]
		right.RIDs = right.RIDs[1:]
		parent.Keys[idx] = right.Keys[0]
		return page.InvalidPageID
	}
	borrowedChild := right.Children[0]
	child.Keys = append(child.Keys, parent.Keys[idx])
	child.Children = append(child.Children, borrowedChild)
	parent.Keys[idx] = right.Keys[0]
	right.Keys = right.Keys[1:]
	right.Children = right.Children[1:]
	return borrowedChild
}
