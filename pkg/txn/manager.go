// ABOUTME: Transaction manager: begin/commit/rollback over the buffer pools of every open file
// ABOUTME: Captures before/after page images via buffer.Observer and journals them to the WAL (spec.md §4.8)

package txn

import (
	"sync"
	"time"

	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/internal/metrics"
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/page"
	"github.com/quilldb/quill/pkg/wal"
)

// State is a transaction's lifecycle stage (spec.md §3).
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// pageKey names a page inside one of the database's backing files. One WAL
// is shared across every heap and index file (spec.md §6), so FileID
// disambiguates a PageID that would otherwise collide across files.
type pageKey struct {
	fileID uint8
	id     page.PageID
}

// touchedPage is the undo/redo bookkeeping for one page a transaction has
// fetched: its content the first time it was seen (before any mutation this
// transaction makes), and whether it was ever actually written.
type touchedPage struct {
	before []byte
	dirty  bool
}

// Txn is one in-flight transaction. Only one is active per Manager at a
// time (spec.md §5's single-session model); for its lifetime it is
// installed as the buffer.Observer of every registered pool, so every
// Fetch/NewPage/Unpin across every open file feeds its undo list.
type Txn struct {
	id    uint64
	mgr   *Manager
	state State

	mu      sync.Mutex
	touched map[pageKey]*touchedPage
	order   []pageKey // first-touch order, so logging and undo are deterministic
}

func (t *Txn) ID() uint64   { return t.id }
func (t *Txn) State() State { return t.state }

func (t *Txn) onFetch(fileID uint8, id page.PageID, data page.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := pageKey{fileID, id}
	if _, seen := t.touched[k]; seen {
		return
	}
	snap := make([]byte, len(data))
	copy(snap, data)
	t.touched[k] = &touchedPage{before: snap}
	t.order = append(t.order, k)
}

func (t *Txn) onDirty(fileID uint8, id page.PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.touched[pageKey{fileID, id}]; ok {
		e.dirty = true
	}
}

// poolBinding adapts one registered pool's buffer.Observer calls to the
// active transaction, tagging them with the pool's FileID.
type poolBinding struct {
	txn    *Txn
	fileID uint8
}

func (b *poolBinding) OnFetch(id page.PageID, data page.Page) { b.txn.onFetch(b.fileID, id, data) }
func (b *poolBinding) OnDirty(id page.PageID)                  { b.txn.onDirty(b.fileID, id) }

// Manager coordinates the one active transaction's WAL records and undo
// list over every backing file registered with it.
type Manager struct {
	walw *wal.WAL
	log  *logger.Logger
	met  *metrics.Metrics

	mu         sync.Mutex
	pools      map[uint8]*buffer.Pool
	nextFileID uint8
	nextTxnID  uint64
	active     *Txn
}

// NewManager creates a transaction manager journaling to w.
func NewManager(w *wal.WAL, log *logger.Logger, met *metrics.Metrics) *Manager {
	m := &Manager{walw: w, met: met, pools: make(map[uint8]*buffer.Pool)}
	if log != nil {
		m.log = log
	}
	return m
}

// RegisterPool assigns pool the next FileID and returns it. The engine keeps
// this id so it can route recovery.WithStore and describe the file in logs
// with the same identifier the WAL entries carry.
func (m *Manager) RegisterPool(pool *buffer.Pool) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextFileID
	m.nextFileID++
	m.pools[id] = pool
	return id
}

// Active returns the currently active transaction, or nil.
func (m *Manager) Active() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.state == StateActive {
		return m.active
	}
	return nil
}

// Begin starts a new transaction and writes its BEGIN record. Only one
// transaction may be active at a time; spec.md §5 treats concurrent
// multi-statement sessions as a Non-goal.
func (m *Manager) Begin() (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.state == StateActive {
			return nil, dberr.New(dberr.KindTxnAborted, "txn: a transaction is already active")
		}
		if m.active.state == StateAborted {
			return nil, dberr.New(dberr.KindTxnAborted, "txn: current transaction was aborted by a statement error, issue ROLLBACK before starting a new one")
		}
	}

	m.nextTxnID++
	t := &Txn{id: m.nextTxnID, mgr: m, state: StateActive, touched: make(map[pageKey]*touchedPage)}

	entry := wal.Entry{LSN: m.walw.NextLSN(), TxnID: t.id, OpType: wal.OpBegin, Timestamp: time.Now()}
	if err := m.walw.Write(entry); err != nil {
		return nil, dberr.Wrap(dberr.KindIO, "txn: write BEGIN record", err)
	}
	if m.met != nil {
		m.met.RecordWalAppend(entry.Size())
		m.met.RecordTxnBegin()
	}

	for fileID, pool := range m.pools {
		pool.SetObserver(&poolBinding{txn: t, fileID: fileID})
	}
	m.active = t
	if m.log != nil {
		m.log.LogTxnEvent("begin", t.id, nil)
	}
	return t, nil
}

func (m *Manager) snapshotOrder(t *Txn) ([]pageKey, []*touchedPage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := append([]pageKey(nil), t.order...)
	entries := make([]*touchedPage, len(order))
	for i, k := range order {
		entries[i] = t.touched[k]
	}
	return order, entries
}

// Commit journals every dirtied page's before/after image, writes and
// fsyncs a COMMIT record, and only then returns successfully — per
// spec.md §4.8, the caller may not be told commit succeeded before the log
// covering it is durable. Calling Commit on an already-committed or
// already-aborted transaction is a no-op (spec.md §8 idempotence).
func (m *Manager) Commit(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state != StateActive {
		return nil
	}

	order, entries := m.snapshotOrder(t)
	for i, k := range order {
		e := entries[i]
		if !e.dirty {
			continue
		}
		pool, ok := m.pools[k.fileID]
		if !ok {
			continue
		}
		h, err := pool.Fetch(k.id)
		if err != nil {
			return err
		}
		after := make([]byte, len(h.Data))
		copy(after, h.Data)

		lsn := m.walw.NextLSN()
		rec := wal.Entry{
			LSN: lsn, TxnID: t.id, OpType: wal.OpUpdate, FileID: k.fileID,
			PageID: uint32(k.id), Before: e.before, After: after, Timestamp: time.Now(),
		}
		if err := m.walw.Write(rec); err != nil {
			pool.Unpin(h, false)
			return dberr.Wrap(dberr.KindIO, "txn: write page log record", err)
		}
		if m.met != nil {
			m.met.RecordWalAppend(rec.Size())
		}

		h.Data.SetLSN(lsn) // invariant 1: page LSN >= LSN of every record whose effects it contains
		pool.Unpin(h, true)
	}

	commitEntry := wal.Entry{LSN: m.walw.NextLSN(), TxnID: t.id, OpType: wal.OpCommit, Timestamp: time.Now()}
	if err := m.walw.Write(commitEntry); err != nil {
		return dberr.Wrap(dberr.KindIO, "txn: write COMMIT record", err)
	}
	start := time.Now()
	if err := m.walw.Fsync(); err != nil {
		return dberr.Wrap(dberr.KindIO, "txn: fsync commit record (unrecoverable per spec.md §7)", err)
	}
	if m.met != nil {
		m.met.RecordWalAppend(commitEntry.Size())
		m.met.RecordWalFsync(time.Since(start))
		m.met.RecordTxnCommit()
	}

	t.state = StateCommitted
	m.clearObserversLocked()
	if m.active == t {
		m.active = nil
	}
	if m.log != nil {
		m.log.LogTxnEvent("commit", t.id, nil)
	}
	return nil
}

// Rollback walks t's undo list in reverse, restoring every dirtied page's
// before-image, then writes an ABORT record and frees the manager for a new
// Begin. A no-op on an already-committed transaction. If t was already
// poisoned by AbortActive (a mid-statement error inside this explicit
// transaction), the undo already happened — this call just acknowledges it
// and clears m.active, which AbortActive deliberately left pointing at t
// (spec.md §8: an explicit ROLLBACK is required to leave the aborted state).
func (m *Manager) Rollback(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state == StateAborted {
		if m.active == t {
			m.active = nil
		}
		return nil
	}
	if t.state != StateActive {
		return nil
	}
	if err := m.undoAndMarkAbortedLocked(t); err != nil {
		return err
	}
	if m.active == t {
		m.active = nil
	}
	if m.log != nil {
		m.log.LogTxnEvent("rollback", t.id, nil)
	}
	return nil
}

// AbortActive undoes t's uncommitted changes and marks it ABORTED, the same
// way Rollback does, but deliberately leaves it installed as the manager's
// active transaction instead of clearing it. withStatementTxn calls this
// when a statement fails inside an explicit transaction: spec.md §7
// requires every subsequent statement to keep failing with TXN_ABORTED
// until the caller issues the matching ROLLBACK, rather than silently
// letting the next statement open a fresh implicit transaction over a
// connection the caller still thinks is mid-transaction.
func (m *Manager) AbortActive(t *Txn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state != StateActive {
		return nil
	}
	if err := m.undoAndMarkAbortedLocked(t); err != nil {
		return err
	}
	if m.log != nil {
		m.log.LogTxnEvent("abort", t.id, nil)
	}
	return nil
}

// undoAndMarkAbortedLocked restores every page t dirtied to its before-image,
// writes the ABORT record, and transitions t to StateAborted. Callers decide
// separately whether to clear m.active. m.mu must already be held.
func (m *Manager) undoAndMarkAbortedLocked(t *Txn) error {
	order, entries := m.snapshotOrder(t)
	for i := len(order) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.dirty {
			continue
		}
		k := order[i]
		pool, ok := m.pools[k.fileID]
		if !ok {
			continue
		}
		h, err := pool.Fetch(k.id)
		if err != nil {
			return err
		}
		copy(h.Data, e.before)
		pool.Unpin(h, true)
	}

	abortEntry := wal.Entry{LSN: m.walw.NextLSN(), TxnID: t.id, OpType: wal.OpAbort, Timestamp: time.Now()}
	if err := m.walw.Write(abortEntry); err != nil {
		return dberr.Wrap(dberr.KindIO, "txn: write ABORT record", err)
	}
	if m.met != nil {
		m.met.RecordWalAppend(abortEntry.Size())
		m.met.RecordTxnAbort()
	}

	t.state = StateAborted
	m.clearObserversLocked()
	return nil
}

func (m *Manager) clearObserversLocked() {
	for _, pool := range m.pools {
		pool.SetObserver(nil)
	}
}
