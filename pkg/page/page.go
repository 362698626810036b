// ABOUTME: Fixed-size page identity and common header shared by every page type
// ABOUTME: Heap and B+tree pages share this 32-byte header layout; the meta page has its own (meta.go)

package page

import "encoding/binary"

// Size is the fixed page size every backing file is carved into.
const Size = 4096

// HeaderSize is the common header every page type carries before its
// type-specific body: PageID, Type, LSN, free-space bookkeeping, and two
// general-purpose uint32 slots used differently per page type (parent
// pointer + sibling pointer for B+tree nodes; heap pages use only the second,
// as the next-page link).
const HeaderSize = 32

// PageID identifies a page within one backing file. Page numbering is dense
// per file; 0 is reserved for the meta page and is never a valid data page.
type PageID uint32

const InvalidPageID PageID = 0

// RID (row identifier) locates a tuple within a heap: the page holding its
// slot directory entry, and the slot number within that page.
type RID struct {
	Page PageID
	Slot uint16
}

func (r RID) Valid() bool { return r.Page != InvalidPageID }

// Type tags what a page's body is encoded as.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeHeap
	TypeBTreeInternal
	TypeBTreeLeaf
	TypeMeta
	TypeFreeList
)

// Page is a raw fixed-size page buffer. All accessors operate directly on
// the backing bytes; callers are expected to hold the buffer pool's pin on
// the frame this slice aliases for as long as they use it.
type Page []byte

// New allocates a zeroed page buffer of the standard size.
func New() Page { return make(Page, Size) }

func (p Page) ID() PageID          { return PageID(binary.LittleEndian.Uint32(p[0:4])) }
func (p Page) SetID(id PageID)     { binary.LittleEndian.PutUint32(p[0:4], uint32(id)) }
func (p Page) Type() Type          { return Type(p[4]) }
func (p Page) SetType(t Type)      { p[4] = byte(t) }
func (p Page) LSN() uint64         { return binary.LittleEndian.Uint64(p[8:16]) }
func (p Page) SetLSN(lsn uint64)   { binary.LittleEndian.PutUint64(p[8:16], lsn) }

// generic1/generic2 back the two header uint32s whose meaning depends on Type:
// heap pages use generic2 as the next-page link (NextPageID) and leave
// generic1 unused; B+tree internal/leaf nodes use generic1 as the
// parent page id and generic2 as the next-leaf sibling pointer (leaves only).
func (p Page) generic1() uint32      { return binary.LittleEndian.Uint32(p[20:24]) }
func (p Page) setGeneric1(v uint32)  { binary.LittleEndian.PutUint32(p[20:24], v) }
func (p Page) generic2() uint32      { return binary.LittleEndian.Uint32(p[24:28]) }
func (p Page) setGeneric2(v uint32)  { binary.LittleEndian.PutUint32(p[24:28], v) }

// Reset zero-initializes a page buffer and tags it with id/typ, matching the
// Buffer Pool's new_page contract (zero-initialize, pin, return).
func Reset(buf Page, id PageID, typ Type) {
	for i := range buf {
		buf[i] = 0
	}
	buf.SetID(id)
	buf.SetType(typ)
}

// IsZero reports whether a page still looks like a freshly-zeroed buffer
// (used by the disk manager to flag a short read as "fresh" rather than
// corrupt, per spec.md §4.1).
func IsZero(p Page) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
