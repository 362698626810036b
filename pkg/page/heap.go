// ABOUTME: Slotted heap page layout for tuple storage
// ABOUTME: Slot directory grows upward from the header, payloads grow downward from the page end

package page

import "encoding/binary"

// slotSize is 8 bytes: offset(2) + length(2) + flags(2) + extra(2). A normal
// slot stores the payload's byte offset and length within the page; a
// forwarded slot (FlagForwarded set) instead packs a forwarding RID into the
// same 8 bytes: offset<<16|length holds the target PageID and extra holds
// the target slot number, so a forwarded stub never needs payload space.
const slotSize = 8

const (
	FlagDeleted   uint16 = 1 << 0
	FlagForwarded uint16 = 1 << 1
)

// InitHeap formats a freshly allocated page as an empty heap page.
func InitHeap(p Page, id PageID) {
	Reset(p, id, TypeHeap)
	p.setSlotCount(0)
	p.setFreeSpacePtr(uint16(Size))
	p.setGeneric2(uint32(InvalidPageID))
}

// NextPageID returns the next page in a heap's page chain, or InvalidPageID
// at the tail. Heap pages don't otherwise use the header's generic2 slot.
func (p Page) NextPageID() PageID { return PageID(p.generic2()) }

// SetNextPageID links p to the next page in its heap's chain.
func (p Page) SetNextPageID(id PageID) { p.setGeneric2(uint32(id)) }

func (p Page) slotCount() uint16      { return binary.LittleEndian.Uint16(p[18:20]) }
func (p Page) setSlotCount(n uint16)  { binary.LittleEndian.PutUint16(p[18:20], n) }
func (p Page) freeSpacePtr() uint16   { return binary.LittleEndian.Uint16(p[16:18]) }
func (p Page) setFreeSpacePtr(v uint16) { binary.LittleEndian.PutUint16(p[16:18], v) }

// NumSlots returns the number of slot directory entries, including deleted
// and forwarded ones; valid slot numbers are [0, NumSlots).
func (p Page) NumSlots() uint16 { return p.slotCount() }

func slotDirOffset(i uint16) int { return HeaderSize + int(i)*slotSize }

func (p Page) readSlot(i uint16) (offset, length, flags, extra uint16) {
	o := slotDirOffset(i)
	offset = binary.LittleEndian.Uint16(p[o : o+2])
	length = binary.LittleEndian.Uint16(p[o+2 : o+4])
	flags = binary.LittleEndian.Uint16(p[o+4 : o+6])
	extra = binary.LittleEndian.Uint16(p[o+6 : o+8])
	return
}

func (p Page) writeSlot(i uint16, offset, length, flags, extra uint16) {
	o := slotDirOffset(i)
	binary.LittleEndian.PutUint16(p[o:o+2], offset)
	binary.LittleEndian.PutUint16(p[o+2:o+4], length)
	binary.LittleEndian.PutUint16(p[o+4:o+6], flags)
	binary.LittleEndian.PutUint16(p[o+6:o+8], extra)
}

// FreeSpace returns the number of contiguous bytes available between the
// end of the slot directory and the start of the payload region.
func (p Page) FreeSpace() int {
	dirEnd := HeaderSize + int(p.slotCount())*slotSize
	return int(p.freeSpacePtr()) - dirEnd
}

// IsDeleted reports whether slotNo's tombstone bit is set.
func (p Page) IsDeleted(slotNo uint16) bool {
	_, _, flags, _ := p.readSlot(slotNo)
	return flags&FlagDeleted != 0
}

// IsForwarded reports whether slotNo instead holds a forwarding RID.
func (p Page) IsForwarded(slotNo uint16) bool {
	_, _, flags, _ := p.readSlot(slotNo)
	return flags&FlagForwarded != 0
}

// ForwardTarget returns the RID a forwarded slot points to.
func (p Page) ForwardTarget(slotNo uint16) RID {
	offset, length, _, extra := p.readSlot(slotNo)
	pid := uint32(offset)<<16 | uint32(length)
	return RID{Page: PageID(pid), Slot: extra}
}

// SetForward rewrites slotNo as a forwarding stub pointing at target,
// without touching the payload region (spec.md §4.3: "updates that enlarge
// a tuple beyond free space write a forwarding RID in the original slot").
func (p Page) SetForward(slotNo uint16, target RID) {
	hi := uint16(uint32(target.Page) >> 16)
	lo := uint16(uint32(target.Page) & 0xFFFF)
	p.writeSlot(slotNo, hi, lo, FlagForwarded, target.Slot)
}

// GetTuple returns the raw payload bytes for a live, non-forwarded slot.
func (p Page) GetTuple(slotNo uint16) ([]byte, bool) {
	if slotNo >= p.slotCount() {
		return nil, false
	}
	offset, length, flags, _ := p.readSlot(slotNo)
	if flags&(FlagDeleted|FlagForwarded) != 0 {
		return nil, false
	}
	return p[offset : offset+length], true
}

// InsertTuple appends data in a new slot, reusing a deleted slot's directory
// entry when one large enough exists. Returns (slot, false) if the page has
// no room.
func (p Page) InsertTuple(data []byte) (uint16, bool) {
	need := len(data)

	// Reuse a deleted slot whose payload area already fits, which avoids
	// growing the slot directory on a workload with steady churn.
	for i := uint16(0); i < p.slotCount(); i++ {
		offset, length, flags, _ := p.readSlot(i)
		if flags&FlagDeleted != 0 && flags&FlagForwarded == 0 && int(length) >= need {
			copy(p[offset:offset+uint16(need)], data)
			p.writeSlot(i, offset, uint16(need), 0, 0)
			return i, true
		}
	}

	if p.FreeSpace() < need+slotSize {
		return 0, false
	}

	newPtr := p.freeSpacePtr() - uint16(need)
	copy(p[newPtr:newPtr+uint16(need)], data)
	p.setFreeSpacePtr(newPtr)

	slotNo := p.slotCount()
	p.setSlotCount(slotNo + 1)
	p.writeSlot(slotNo, newPtr, uint16(need), 0, 0)
	return slotNo, true
}

// UpdateInPlace overwrites a live slot's payload if newData fits in the
// slot's existing reserved space; returns false if it doesn't (the caller
// must then delete+insert and leave a forwarding stub).
func (p Page) UpdateInPlace(slotNo uint16, newData []byte) bool {
	offset, length, flags, _ := p.readSlot(slotNo)
	if flags&(FlagDeleted|FlagForwarded) != 0 {
		return false
	}
	if len(newData) > int(length) {
		return false
	}
	copy(p[offset:offset+uint16(len(newData))], newData)
	p.writeSlot(slotNo, offset, uint16(len(newData)), 0, 0)
	return true
}

// DeleteSlot tombstones a slot without compacting the page.
func (p Page) DeleteSlot(slotNo uint16) {
	offset, length, _, _ := p.readSlot(slotNo)
	p.writeSlot(slotNo, offset, length, FlagDeleted, 0)
}

// FragmentedFraction estimates how much of the page is held by dead
// (deleted, non-reusable) slots, used to decide when to Compact.
func (p Page) FragmentedFraction() float64 {
	dead := 0
	for i := uint16(0); i < p.slotCount(); i++ {
		_, length, flags, _ := p.readSlot(i)
		if flags&FlagDeleted != 0 {
			dead += int(length)
		}
	}
	return float64(dead) / float64(Size)
}

// Compact rewrites the payload region, dropping dead tuples and reclaiming
// their space, when more than half the page is fragmented (spec.md §4.3).
// Live slot numbers are preserved; only their offsets move.
func (p Page) Compact() {
	type entry struct {
		slot   uint16
		data   []byte
		fwd    bool
		target RID
	}
	n := p.slotCount()
	entries := make([]entry, 0, n)
	for i := uint16(0); i < n; i++ {
		offset, length, flags, extra := p.readSlot(i)
		if flags&FlagDeleted != 0 {
			continue
		}
		if flags&FlagForwarded != 0 {
			pid := uint32(offset)<<16 | uint32(length)
			entries = append(entries, entry{slot: i, fwd: true, target: RID{Page: PageID(pid), Slot: extra}})
			continue
		}
		buf := make([]byte, length)
		copy(buf, p[offset:offset+length])
		entries = append(entries, entry{slot: i, data: buf})
	}

	for i := uint16(0); i < n; i++ {
		p.writeSlot(i, 0, 0, FlagDeleted, 0)
	}
	p.setFreeSpacePtr(uint16(Size))

	for _, e := range entries {
		if e.fwd {
			p.SetForward(e.slot, e.target)
			continue
		}
		newPtr := p.freeSpacePtr() - uint16(len(e.data))
		copy(p[newPtr:newPtr+uint16(len(e.data))], e.data)
		p.setFreeSpacePtr(newPtr)
		p.writeSlot(e.slot, newPtr, uint16(len(e.data)), 0, 0)
	}
}
