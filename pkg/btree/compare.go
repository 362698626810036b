// ABOUTME: Ordering helpers shared by search, insert, and delete
// ABOUTME: Entries are ordered by key first, then by RID so identical keys stay cluster-stable

package btree

import (
	"bytes"

	"github.com/quilldb/quill/pkg/page"
)

func compareRID(a, b page.RID) int {
	if a.Page != b.Page {
		if a.Page < b.Page {
			return -1
		}
		return 1
	}
	if a.Slot == b.Slot {
		return 0
	}
	if a.Slot < b.Slot {
		return -1
	}
	return 1
}

// compareEntry orders (key, rid) pairs: key is primary, RID is the
// secondary discriminator for non-unique indexes (spec.md §4.4).
func compareEntry(keyA []byte, ridA page.RID, keyB []byte, ridB page.RID) int {
	if c := bytes.Compare(keyA, keyB); c != 0 {
		return c
	}
	return compareRID(ridA, ridB)
}
