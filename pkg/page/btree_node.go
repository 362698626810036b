// ABOUTME: B+tree node page layout: header + child pointers/RIDs + a contiguous length-prefixed key array
// ABOUTME: Encode/Decode round-trip through a DecodedNode so the B+tree manager operates on plain Go slices

package page

import (
	"encoding/binary"
	"fmt"
)

// DecodedNode is the in-memory form of a B+tree node page. The B+tree
// manager decodes a page into this shape, mutates it with plain slice
// operations, and re-encodes it — the wire format (header, contiguous
// pointer/RID array, offset-indexed variable-width key array, leaf sibling
// pointer) still matches spec.md §4.3 byte-for-byte; only the mutation path
// is expressed at the Go-slice level rather than in-place byte shuffling.
type DecodedNode struct {
	ID       PageID
	IsLeaf   bool
	Parent   PageID
	Next     PageID // leaf sibling pointer; InvalidPageID if none (rightmost leaf)
	LSN      uint64
	Keys     [][]byte
	Children []PageID // internal only: len(Children) == len(Keys)+1
	RIDs     []RID    // leaf only: len(RIDs) == len(Keys)
}

func (n *DecodedNode) KeyCount() int { return len(n.Keys) }

// DecodeBTreeNode reads a page previously written by EncodeBTreeNode.
func DecodeBTreeNode(p Page) (*DecodedNode, error) {
	typ := p.Type()
	if typ != TypeBTreeInternal && typ != TypeBTreeLeaf {
		return nil, fmt.Errorf("page: not a btree node page (type=%d)", typ)
	}
	n := &DecodedNode{
		ID:     p.ID(),
		IsLeaf: typ == TypeBTreeLeaf,
		Parent: PageID(p.generic1()),
		LSN:    p.LSN(),
	}
	if n.IsLeaf {
		n.Next = PageID(p.generic2())
	}
	nkeys := int(p.slotCount())
	n.Keys = make([][]byte, nkeys)
	if n.IsLeaf {
		n.RIDs = make([]RID, nkeys)
	} else {
		n.Children = make([]PageID, nkeys+1)
	}

	ptrCount := nkeys
	if !n.IsLeaf {
		ptrCount = nkeys + 1
	}
	ptrArrayOff := HeaderSize
	offsetArrayOff := HeaderSize + ptrCount*8
	keyDataStart := offsetArrayOff + nkeys*2

	readPtr := func(i int) uint64 {
		o := ptrArrayOff + i*8
		return binary.LittleEndian.Uint64(p[o : o+8])
	}
	offsetAt := func(i int) uint16 {
		if i == 0 {
			return 0
		}
		o := offsetArrayOff + (i-1)*2
		return binary.LittleEndian.Uint16(p[o : o+2])
	}

	if !n.IsLeaf {
		for i := 0; i <= nkeys; i++ {
			n.Children[i] = PageID(readPtr(i))
		}
	} else {
		for i := 0; i < nkeys; i++ {
			v := readPtr(i)
			n.RIDs[i] = RID{Page: PageID(v & 0xFFFFFFFF), Slot: uint16(v >> 32)}
		}
	}

	for i := 0; i < nkeys; i++ {
		pos := keyDataStart + int(offsetAt(i))
		klen := int(binary.LittleEndian.Uint16(p[pos : pos+2]))
		key := make([]byte, klen)
		copy(key, p[pos+2:pos+2+klen])
		n.Keys[i] = key
	}

	return n, nil
}

// EncodeBTreeNode serializes n into p, zeroing it first. Returns an error if
// n does not fit within one page (the B+tree manager is responsible for
// splitting before this is ever called with an oversized node).
func EncodeBTreeNode(p Page, n *DecodedNode) error {
	nkeys := len(n.Keys)
	ptrCount := nkeys
	if !n.IsLeaf {
		ptrCount = nkeys + 1
	}
	ptrArrayOff := HeaderSize
	offsetArrayOff := HeaderSize + ptrCount*8
	keyDataStart := offsetArrayOff + nkeys*2

	// Entries only need a pointer slot per key for leaves (RID-per-key);
	// internal nodes need one extra child pointer. Size the pointer array
	// by ptrCount so both shapes share one layout.
	size := keyDataStart
	for _, k := range n.Keys {
		size += 2 + len(k)
	}
	if size > Size {
		return fmt.Errorf("page: encoded btree node (%d bytes) exceeds page size %d", size, Size)
	}

	typ := TypeBTreeInternal
	if n.IsLeaf {
		typ = TypeBTreeLeaf
	}
	Reset(p, n.ID, typ)
	p.SetLSN(n.LSN)
	p.setGeneric1(uint32(n.Parent))
	if n.IsLeaf {
		p.setGeneric2(uint32(n.Next))
	}
	p.setSlotCount(uint16(nkeys))

	writePtr := func(i int, v uint64) {
		o := ptrArrayOff + i*8
		binary.LittleEndian.PutUint64(p[o:o+8], v)
	}
	if !n.IsLeaf {
		for i, child := range n.Children {
			writePtr(i, uint64(child))
		}
	} else {
		for i, rid := range n.RIDs {
			v := uint64(rid.Page) | uint64(rid.Slot)<<32
			writePtr(i, v)
		}
	}

	offset := uint16(0)
	for i, k := range n.Keys {
		if i > 0 {
			o := offsetArrayOff + (i-1)*2
			binary.LittleEndian.PutUint16(p[o:o+2], offset)
		}
		pos := keyDataStart + int(offset)
		binary.LittleEndian.PutUint16(p[pos:pos+2], uint16(len(k)))
		copy(p[pos+2:pos+2+len(k)], k)
		offset += uint16(2 + len(k))
	}
	if nkeys > 0 {
		o := offsetArrayOff + (nkeys-1)*2
		binary.LittleEndian.PutUint16(p[o:o+2], offset)
	}

	return nil
}

// EncodedSize returns the byte size n would occupy if encoded, without
// writing anything — used by the B+tree manager to decide whether an
// insert would overflow the page before building the final node.
func EncodedSize(n *DecodedNode) int {
	ptrCount := len(n.Keys)
	if !n.IsLeaf {
		ptrCount = len(n.Keys) + 1
	}
	size := HeaderSize + ptrCount*8 + len(n.Keys)*2
	for _, k := range n.Keys {
		size += 2 + len(k)
	}
	return size
}
