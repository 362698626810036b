// ABOUTME: Process-wide persistent registry of tables, indexes, views, and triggers
// ABOUTME: Definitions are JSON-encoded into reserved system heap pages; lookups are cached in memory

package catalog

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/quilldb/quill/internal/logger"
	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/dberr"
	"github.com/quilldb/quill/pkg/page"
	"github.com/quilldb/quill/pkg/types"
)

// IndexDef describes one B+tree index over a table.
type IndexDef struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	Root    page.PageID // root page of the index's own backing file, once opened
}

// ViewDef stores a view's original SELECT text verbatim — the front end
// parses and plans it; the catalog only remembers the source.
type ViewDef struct {
	Name  string
	Query string
}

// TriggerDef names the hook points a table's TriggerHook implementation
// fires at; the trigger body is opaque text interpreted by the front end.
type TriggerDef struct {
	Name      string
	Table     string
	Event     string // INSERT, UPDATE, DELETE
	Timing    string // BEFORE, AFTER
	Condition string
	Body      string
}

// TableDef is one table's schema plus the indexes declared over it.
type TableDef struct {
	Name    string
	Schema  types.Schema
	Indexes []IndexDef
}

// record is the on-disk shape every catalog entry is JSON-encoded into: a
// kind tag, the owning table name (empty for table definitions themselves),
// and the encoded definition.
type record struct {
	Kind  string // "table", "view", "trigger"
	Name  string
	Table string // owning table, for triggers
	Def   json.RawMessage
}

const (
	kindTable   = "table"
	kindView    = "view"
	kindTrigger = "trigger"
)

// Catalog is the in-memory cache over the persisted system heap. Each
// Create* call updates the cached maps in place and appends that
// definition's record to the system heap (spec.md §4.5).
type Catalog struct {
	pool *buffer.Pool
	log  *logger.Logger

	mu       sync.RWMutex
	tables   map[string]*TableDef
	views    map[string]*ViewDef
	triggers map[string][]*TriggerDef // keyed by table name
}

// Open loads an existing catalog from pool's backing file, or initializes an
// empty one if the file is fresh.
func Open(pool *buffer.Pool, log *logger.Logger) (*Catalog, error) {
	c := &Catalog{
		pool:     pool,
		tables:   make(map[string]*TableDef),
		views:    make(map[string]*ViewDef),
		triggers: make(map[string][]*TriggerDef),
	}
	if log != nil {
		c.log = log.DbLogger("catalog")
	}

	root, err := pool.Disk().Root()
	if err != nil {
		return nil, err
	}
	if root == page.InvalidPageID {
		h, err := pool.NewPage()
		if err != nil {
			return nil, err
		}
		page.InitHeap(h.Data, h.PageID)
		pool.Unpin(h, true)
		if err := pool.Disk().SetRoot(h.PageID); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.loadAll(root); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) loadAll(firstPage page.PageID) error {
	id := firstPage
	for id != page.InvalidPageID {
		h, err := c.pool.Fetch(id)
		if err != nil {
			return err
		}
		for slot := uint16(0); slot < h.Data.NumSlots(); slot++ {
			raw, ok := h.Data.GetTuple(slot)
			if !ok {
				continue
			}
			var rec record
			if err := json.Unmarshal(raw, &rec); err != nil {
				c.pool.Unpin(h, false)
				return dberr.Wrap(dberr.KindIO, "catalog: corrupt system record", err)
			}
			if err := c.applyRecord(rec); err != nil {
				c.pool.Unpin(h, false)
				return err
			}
		}
		next := h.Data.NextPageID()
		c.pool.Unpin(h, false)
		id = next
	}
	return nil
}

func (c *Catalog) applyRecord(rec record) error {
	switch rec.Kind {
	case kindTable:
		var t TableDef
		if err := json.Unmarshal(rec.Def, &t); err != nil {
			return err
		}
		c.tables[t.Name] = &t
	case kindView:
		var v ViewDef
		if err := json.Unmarshal(rec.Def, &v); err != nil {
			return err
		}
		c.views[v.Name] = &v
	case kindTrigger:
		var tr TriggerDef
		if err := json.Unmarshal(rec.Def, &tr); err != nil {
			return err
		}
		c.triggers[rec.Table] = append(c.triggers[rec.Table], &tr)
	}
	return nil
}

// persist appends one record to the system heap, growing the chain with a
// fresh page when the current tail is full.
func (c *Catalog) persist(rec record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	root, err := c.pool.Disk().Root()
	if err != nil {
		return err
	}

	id := root
	var h *buffer.Handle
	for {
		h, err = c.pool.Fetch(id)
		if err != nil {
			return err
		}
		if _, ok := h.Data.InsertTuple(payload); ok {
			c.pool.Unpin(h, true)
			return nil
		}
		next := h.Data.NextPageID()
		if next == page.InvalidPageID {
			break
		}
		c.pool.Unpin(h, false)
		id = next
	}

	// Current tail is full: allocate a new page and chain it.
	newHandle, err := c.pool.NewPage()
	if err != nil {
		c.pool.Unpin(h, false)
		return err
	}
	page.InitHeap(newHandle.Data, newHandle.PageID)
	if _, ok := newHandle.Data.InsertTuple(payload); !ok {
		c.pool.Unpin(h, false)
		c.pool.Unpin(newHandle, false)
		return dberr.New(dberr.KindIO, "catalog: record too large for an empty system page")
	}
	h.Data.SetNextPageID(newHandle.PageID)
	c.pool.Unpin(h, true)
	c.pool.Unpin(newHandle, true)
	return nil
}

// CreateTable registers a new table's schema, persisting it immediately.
func (c *Catalog) CreateTable(name string, schema types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[name]; exists {
		return dberr.New(dberr.KindSemantic, "table already exists: "+name)
	}
	t := &TableDef{Name: name, Schema: schema}
	def, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := c.persist(record{Kind: kindTable, Name: name, Def: def}); err != nil {
		return err
	}
	c.tables[name] = t
	return nil
}

// Table returns a table's definition, or NOT_FOUND.
func (c *Catalog) Table(name string) (*TableDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "no such table: "+name)
	}
	return t, nil
}

// Tables lists every known table name, sorted.
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateIndex registers a new index over table, persisting the updated
// table definition.
func (c *Catalog) CreateIndex(def IndexDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tables[def.Table]
	if !ok {
		return dberr.New(dberr.KindNotFound, "no such table: "+def.Table)
	}
	for _, existing := range t.Indexes {
		if existing.Name == def.Name {
			return dberr.New(dberr.KindSemantic, "index already exists: "+def.Name)
		}
	}
	t.Indexes = append(t.Indexes, def)

	encoded, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.persist(record{Kind: kindTable, Name: t.Name, Def: encoded})
}

// Indexes returns the indexes declared over table.
func (c *Catalog) Indexes(table string) ([]IndexDef, error) {
	t, err := c.Table(table)
	if err != nil {
		return nil, err
	}
	return t.Indexes, nil
}

// CreateView registers a view's stored SELECT text.
func (c *Catalog) CreateView(name, query string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.views[name]; exists {
		return dberr.New(dberr.KindSemantic, "view already exists: "+name)
	}
	v := &ViewDef{Name: name, Query: query}
	def, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.persist(record{Kind: kindView, Name: name, Def: def}); err != nil {
		return err
	}
	c.views[name] = v
	return nil
}

// View returns a view's stored query text.
func (c *Catalog) View(name string) (*ViewDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[name]
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "no such view: "+name)
	}
	return v, nil
}

// CreateTrigger registers a trigger against a table.
func (c *Catalog) CreateTrigger(def TriggerDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[def.Table]; !ok {
		return dberr.New(dberr.KindNotFound, "no such table: "+def.Table)
	}
	encoded, err := json.Marshal(def)
	if err != nil {
		return err
	}
	if err := c.persist(record{Kind: kindTrigger, Name: def.Name, Table: def.Table, Def: encoded}); err != nil {
		return err
	}
	c.triggers[def.Table] = append(c.triggers[def.Table], &def)
	return nil
}

// Triggers returns the triggers registered on table.
func (c *Catalog) Triggers(table string) []*TriggerDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.triggers[table]
}
