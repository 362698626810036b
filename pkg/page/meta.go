// ABOUTME: Meta page (page 0) layout: signature, root pointer, free-list head, page count
// ABOUTME: Every backing file (heap, index, catalog) reserves page 0 for this

package page

import "encoding/binary"

const metaMagic = "QUILLDB1"

const (
	metaOffMagic     = 0  // 8 bytes
	metaOffRoot      = 8  // 4 bytes - PageID, meaning depends on file kind (btree root / heap first page)
	metaOffFreeList  = 12 // 4 bytes - PageID of free-list head, 0 if empty
	metaOffNumPages  = 16 // 4 bytes - total pages ever allocated in the file
	metaOffLSN       = 20 // 8 bytes - durable LSN as of last checkpoint covering this file
)

// InitMeta formats page 0 as a fresh meta page.
func InitMeta(p Page) {
	Reset(p, InvalidPageID, TypeMeta)
	copy(p[metaOffMagic:metaOffMagic+8], metaMagic)
}

// ValidMeta reports whether p carries the expected signature.
func ValidMeta(p Page) bool {
	return string(p[metaOffMagic:metaOffMagic+8]) == metaMagic
}

func (p Page) MetaRoot() PageID         { return PageID(binary.LittleEndian.Uint32(p[metaOffRoot : metaOffRoot+4])) }
func (p Page) SetMetaRoot(id PageID)    { binary.LittleEndian.PutUint32(p[metaOffRoot:metaOffRoot+4], uint32(id)) }
func (p Page) MetaFreeList() PageID     { return PageID(binary.LittleEndian.Uint32(p[metaOffFreeList : metaOffFreeList+4])) }
func (p Page) SetMetaFreeList(id PageID) {
	binary.LittleEndian.PutUint32(p[metaOffFreeList:metaOffFreeList+4], uint32(id))
}
func (p Page) MetaNumPages() uint32     { return binary.LittleEndian.Uint32(p[metaOffNumPages : metaOffNumPages+4]) }
func (p Page) SetMetaNumPages(n uint32) { binary.LittleEndian.PutUint32(p[metaOffNumPages:metaOffNumPages+4], n) }
func (p Page) MetaLSN() uint64          { return binary.LittleEndian.Uint64(p[metaOffLSN : metaOffLSN+8]) }
func (p Page) SetMetaLSN(lsn uint64)    { binary.LittleEndian.PutUint64(p[metaOffLSN:metaOffLSN+8], lsn) }

// FreeListNode layout, stored inside an otherwise-unused data page while it
// sits in the free list: a next pointer plus a small bitmap-free area (the
// rest of the page is unused — pages in the free list carry no payload).
const freeListNextOff = HeaderSize

func InitFreeListNode(p Page, id PageID, next PageID) {
	Reset(p, id, TypeFreeList)
	binary.LittleEndian.PutUint32(p[freeListNextOff:freeListNextOff+4], uint32(next))
}

func (p Page) FreeListNext() PageID {
	return PageID(binary.LittleEndian.Uint32(p[freeListNextOff : freeListNextOff+4]))
}
