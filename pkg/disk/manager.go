// ABOUTME: Disk Manager — allocates, reads, and writes fixed-size pages from one backing file
// ABOUTME: Page 0 is always the meta page; a persistent free list recycles freed page ids

package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/page"
)

// Manager owns one backing file and exposes the page-level contract spec.md
// §4.1 names: allocate_page, free_page, read_page, write_page, sync.
type Manager struct {
	path string
	file *os.File
	fd   int

	log *logger.Logger
	met *metrics.Metrics

	mu           sync.Mutex
	numPages     uint32
	freeListHead page.PageID
}

// WithObservability attaches a logger and metrics sink to an already-open
// manager; both are optional and nil-safe.
func (m *Manager) WithObservability(l *logger.Logger, met *metrics.Metrics) *Manager {
	if l != nil {
		m.log = l.DbLogger("disk")
	}
	m.met = met
	return m
}

// Open opens an existing backing file or creates a fresh one with an
// initialized meta page at page 0.
func Open(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "create data directory", err)
	}

	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIO, fmt.Sprintf("open %s", path), err)
	}

	m := &Manager{path: path, file: file, fd: int(file.Fd())}

	if !existed {
		meta := page.New()
		page.InitMeta(meta)
		meta.SetMetaNumPages(1) // page 0 (meta) itself counts
		if err := m.writeRaw(0, meta); err != nil {
			file.Close()
			return nil, err
		}
		if err := m.Sync(); err != nil {
			file.Close()
			return nil, err
		}
		m.numPages = 1
		m.freeListHead = page.InvalidPageID
		return m, nil
	}

	meta := page.New()
	if err := m.readRaw(0, meta); err != nil {
		file.Close()
		return nil, err
	}
	if !page.ValidMeta(meta) {
		file.Close()
		return nil, dberr.New(dberr.KindIO, fmt.Sprintf("%s: invalid meta page signature", path))
	}
	m.numPages = meta.MetaNumPages()
	m.freeListHead = meta.MetaFreeList()
	return m, nil
}

func (m *Manager) readRaw(id page.PageID, buf page.Page) error {
	start := time.Now()
	off := int64(id) * page.Size
	n, err := unix.Pread(m.fd, buf, off)
	elapsed := time.Since(start)
	if m.met != nil {
		m.met.RecordPageIO("read", elapsed)
	}
	if m.log != nil {
		m.log.LogPageIO("read", uint32(id), elapsed, err)
	}
	if err != nil {
		return dberr.Wrap(dberr.KindIO, fmt.Sprintf("read page %d", id), err)
	}
	if n < page.Size {
		// Short read: zero-pad and let the caller distinguish a fresh page
		// from corruption via page.IsZero / ValidMeta, per spec.md §4.1.
		for i := n; i < page.Size; i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (m *Manager) writeRaw(id page.PageID, buf page.Page) error {
	if len(buf) != page.Size {
		return dberr.New(dberr.KindIO, fmt.Sprintf("write page %d: buffer is %d bytes, want %d", id, len(buf), page.Size))
	}
	start := time.Now()
	off := int64(id) * page.Size
	n, err := unix.Pwrite(m.fd, buf, off)
	elapsed := time.Since(start)
	if m.met != nil {
		m.met.RecordPageIO("write", elapsed)
	}
	if m.log != nil {
		m.log.LogPageIO("write", uint32(id), elapsed, err)
	}
	if err != nil {
		return dberr.Wrap(dberr.KindIO, fmt.Sprintf("write page %d", id), err)
	}
	if n != page.Size {
		return dberr.New(dberr.KindIO, fmt.Sprintf("short write on page %d: wrote %d of %d bytes", id, n, page.Size))
	}
	return nil
}

// ReadPage reads page id into buf, which must be page.Size bytes.
func (m *Manager) ReadPage(id page.PageID, buf page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readRaw(id, buf)
}

// WritePage writes buf to page id.
func (m *Manager) WritePage(id page.PageID, buf page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeRaw(id, buf)
}

// AllocatePage returns a free page id, reusing one from the free list before
// growing the file.
func (m *Manager) AllocatePage() (page.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.freeListHead != page.InvalidPageID {
		id := m.freeListHead
		node := page.New()
		if err := m.readRaw(id, node); err != nil {
			return page.InvalidPageID, err
		}
		m.freeListHead = node.FreeListNext()
		if err := m.persistMetaLocked(); err != nil {
			return page.InvalidPageID, err
		}
		return id, nil
	}

	id := page.PageID(m.numPages)
	m.numPages++
	if err := m.persistMetaLocked(); err != nil {
		return page.InvalidPageID, err
	}
	return id, nil
}

// FreePage returns id to the persistent free list for reuse.
func (m *Manager) FreePage(id page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := page.New()
	page.InitFreeListNode(node, id, m.freeListHead)
	if err := m.writeRaw(id, node); err != nil {
		return err
	}
	m.freeListHead = id
	return m.persistMetaLocked()
}

func (m *Manager) persistMetaLocked() error {
	meta := page.New()
	if err := m.readRaw(0, meta); err != nil {
		return err
	}
	meta.SetMetaNumPages(m.numPages)
	meta.SetMetaFreeList(m.freeListHead)
	return m.writeRaw(0, meta)
}

// SetRoot stores the file's root pointer (btree root page id, or a table's
// first heap page) in the meta page.
func (m *Manager) SetRoot(id page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := page.New()
	if err := m.readRaw(0, meta); err != nil {
		return err
	}
	meta.SetMetaRoot(id)
	return m.writeRaw(0, meta)
}

// Root returns the file's root pointer.
func (m *Manager) Root() (page.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := page.New()
	if err := m.readRaw(0, meta); err != nil {
		return page.InvalidPageID, err
	}
	return meta.MetaRoot(), nil
}

// NumPages returns the number of pages ever allocated in this file,
// including the meta page and any pages currently on the free list.
func (m *Manager) NumPages() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numPages
}

// Sync fsyncs the backing file so every write issued so far is durable.
func (m *Manager) Sync() error {
	if err := unix.Fsync(m.fd); err != nil {
		return dberr.Wrap(dberr.KindIO, fmt.Sprintf("fsync %s", m.path), err)
	}
	return nil
}

// Close closes the backing file.
func (m *Manager) Close() error {
	return m.file.Close()
}

// Path returns the backing file path, for logging.
func (m *Manager) Path() string { return m.path }
