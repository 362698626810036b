// ABOUTME: Buffer Pool — a fixed-size in-memory cache of disk pages with pin counts and a clock replacement policy
// ABOUTME: Mirrors the cache/lru/dirty bookkeeping shape of a pager cache, generalized with reference counting

package buffer

import (
	"sync"

	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/disk"
	"github.com/quilldb/quill/pkg/page"
)

// Config configures a Pool.
type Config struct {
	Capacity int // number of frames
}

// Observer lets the transaction manager see every page this pool hands out
// without the pool needing to know anything about transactions itself. Fetch
// and NewPage report a page's bytes before the caller can mutate them (so the
// observer can snapshot an undo image on first touch); Unpin reports which
// pages were actually marked dirty, so the observer knows which snapshots to
// keep and log. Both methods must be cheap and must not call back into the
// pool: they run under p.mu.
type Observer interface {
	OnFetch(id page.PageID, data page.Page)
	OnDirty(id page.PageID)
}

// frame is one slot in the pool: a page buffer plus its bookkeeping.
type frame struct {
	buf      page.Page
	pageID   page.PageID
	pinCount int
	dirty    bool
	referenced bool // clock "second chance" bit
}

// Pool is a fixed-capacity cache of disk pages backed by one disk.Manager.
// Eviction only ever considers frames with pinCount == 0 (spec.md invariant:
// "a pinned frame is never evicted"). Each frame carries a dirty bit, and a
// dirty victim is written back before its frame is reused; the pool itself
// keeps no per-frame LSN.
type Pool struct {
	disk *disk.Manager
	log  *logger.Logger
	met  *metrics.Metrics

	mu        sync.Mutex
	frames    []frame
	pageTable map[page.PageID]int // pageID -> frame index
	clockHand int
	freeList  []int // frame indices never yet used

	observer Observer // transaction manager watching this pool's mutations, if any
}

// SetObserver attaches or clears (pass nil) the pool's transaction observer.
// spec.md §5 runs one transaction at a time, so a pool has at most one
// observer live at a time, installed by txn.Manager.Begin and cleared on
// Commit/Rollback.
func (p *Pool) SetObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// NewPool constructs a buffer pool of cfg.Capacity frames over d.
func NewPool(d *disk.Manager, cfg Config, log *logger.Logger, met *metrics.Metrics) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	p := &Pool{
		disk:      d,
		frames:    make([]frame, cfg.Capacity),
		pageTable: make(map[page.PageID]int, cfg.Capacity),
		freeList:  make([]int, cfg.Capacity),
	}
	for i := 0; i < cfg.Capacity; i++ {
		p.freeList[i] = cfg.Capacity - 1 - i
	}
	if log != nil {
		p.log = log.DbLogger("buffer")
	}
	p.met = met
	return p
}

// Handle is a pinned reference to a page's buffer. Callers must call
// Unpin exactly once per successful Fetch/NewPage.
type Handle struct {
	pool    *Pool
	frameID int
	PageID  page.PageID
	Data    page.Page
}

// Fetch pins and returns the page, reading it from disk on a cache miss.
func (p *Pool) Fetch(id page.PageID) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable[id]; ok {
		p.frames[idx].pinCount++
		p.frames[idx].referenced = true
		if p.met != nil {
			p.met.RecordBufferHit()
		}
		if p.observer != nil {
			p.observer.OnFetch(id, p.frames[idx].buf)
		}
		return &Handle{pool: p, frameID: idx, PageID: id, Data: p.frames[idx].buf}, nil
	}

	if p.met != nil {
		p.met.RecordBufferMiss()
	}

	idx, err := p.allocateFrameLocked()
	if err != nil {
		return nil, err
	}

	buf := page.New()
	if err := p.disk.ReadPage(id, buf); err != nil {
		p.freeList = append(p.freeList, idx)
		return nil, err
	}

	p.frames[idx] = frame{buf: buf, pageID: id, pinCount: 1, referenced: true}
	p.pageTable[id] = idx
	if p.observer != nil {
		p.observer.OnFetch(id, buf)
	}
	return &Handle{pool: p, frameID: idx, PageID: id, Data: buf}, nil
}

// NewPage allocates a fresh page on disk and returns it pinned and zeroed.
func (p *Pool) NewPage() (*Handle, error) {
	id, err := p.disk.AllocatePage()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	idx, err := p.allocateFrameLocked()
	if err != nil {
		return nil, err
	}

	buf := page.New()
	buf.SetID(id)
	p.frames[idx] = frame{buf: buf, pageID: id, pinCount: 1, dirty: true, referenced: true}
	p.pageTable[id] = idx
	if p.observer != nil {
		p.observer.OnFetch(id, buf) // all-zero "before" image: the page didn't exist at txn begin
		p.observer.OnDirty(id)
	}
	return &Handle{pool: p, frameID: idx, PageID: id, Data: buf}, nil
}

// allocateFrameLocked finds a frame for a new page, evicting via clock
// if necessary. Caller holds p.mu.
func (p *Pool) allocateFrameLocked() (int, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return idx, nil
	}
	return p.evictLocked()
}

// evictLocked runs clock (second-chance) replacement over frames with
// pinCount == 0, flushing a dirty victim before reuse. Returns
// dberr.BufferExhausted if every frame is pinned (spec.md §4.2).
func (p *Pool) evictLocked() (int, error) {
	n := len(p.frames)
	for scanned := 0; scanned < 2*n; scanned++ {
		idx := p.clockHand
		p.clockHand = (p.clockHand + 1) % n

		f := &p.frames[idx]
		if f.pinCount != 0 {
			continue
		}
		if f.referenced {
			f.referenced = false
			continue
		}

		if f.dirty {
			if err := p.disk.WritePage(f.pageID, f.buf); err != nil {
				return 0, err
			}
		}
		delete(p.pageTable, f.pageID)
		if p.met != nil {
			p.met.RecordBufferEviction()
		}
		return idx, nil
	}
	return 0, dberr.New(dberr.KindBufferExhausted, "buffer pool: no unpinned frame available for eviction")
}

// Unpin releases a handle. dirty, if true, marks the frame dirty even if
// the caller didn't write through Data directly (sets bit, never clears it
// — only a flush clears dirty).
func (p *Pool) Unpin(h *Handle, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := &p.frames[h.frameID]
	if f.pinCount > 0 {
		f.pinCount--
	}
	if dirty {
		f.dirty = true
		if p.observer != nil {
			p.observer.OnDirty(h.PageID)
		}
	}
}

// Flush writes one page back to disk if dirty, clearing its dirty bit.
func (p *Pool) Flush(id page.PageID) error {
	p.mu.Lock()
	idx, ok := p.pageTable[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	f := &p.frames[idx]
	if !f.dirty {
		p.mu.Unlock()
		return nil
	}
	buf := f.buf
	p.mu.Unlock()

	if err := p.disk.WritePage(id, buf); err != nil {
		return err
	}

	p.mu.Lock()
	p.frames[idx].dirty = false
	p.mu.Unlock()
	return nil
}

// FlushAll writes every dirty frame back to disk, then fsyncs the file —
// the checkpoint path's page-flush half (spec.md §4.8).
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	ids := make([]page.PageID, 0, len(p.pageTable))
	for id := range p.pageTable {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Flush(id); err != nil {
			return err
		}
	}
	return p.disk.Sync()
}

// PinCount returns a frame's current pin count, for tests and diagnostics.
func (p *Pool) PinCount(id page.PageID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.pageTable[id]
	if !ok {
		return 0
	}
	return p.frames[idx].pinCount
}

// Page returns the handle's page buffer. Mutating it requires the caller
// to Unpin with dirty=true afterward.
func (h *Handle) Page() page.Page { return h.Data }

// Disk returns the backing disk manager, for components that need direct
// access to the file's meta page (e.g. the B+tree manager's root pointer).
func (p *Pool) Disk() *disk.Manager { return p.disk }
