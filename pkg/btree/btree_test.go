package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/quilldb/quill/pkg/buffer"
	"github.com/quilldb/quill/pkg/disk"
	"github.com/quilldb/quill/pkg/page"
)

func openTree(t *testing.T, capacity int) *Manager {
	t.Helper()
	dir := t.TempDir()
	d, err := disk.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	pool := buffer.NewPool(d, buffer.Config{Capacity: capacity}, nil, nil)
	m, err := Open(pool, nil, nil)
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	return m
}

func TestSearchEmptyTree(t *testing.T) {
	m := openTree(t, 8)
	_, ok, err := m.Search([]byte("x"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if ok {
		t.Fatal("empty tree should have no matches")
	}
}

func TestInsertThenSearch(t *testing.T) {
	m := openTree(t, 16)
	rid := page.RID{Page: 3, Slot: 1}
	if err := m.Insert([]byte("apple"), rid); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := m.Search([]byte("apple"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !ok {
		t.Fatal("expected to find inserted key")
	}
	if got != rid {
		t.Fatalf("Search RID = %+v, want %+v", got, rid)
	}
}

func TestInsertManyCausesSplitsAndRemainsSearchable(t *testing.T) {
	m := openTree(t, 32)

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := m.Insert(key, page.RID{Page: page.PageID(i + 1), Slot: 0}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		rid, ok, err := m.Search(key)
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("key %d missing after bulk insert", i)
		}
		if rid.Page != page.PageID(i+1) {
			t.Fatalf("key %d RID.Page = %d, want %d", i, rid.Page, i+1)
		}
	}
}

func TestDeleteRemovesExactPair(t *testing.T) {
	m := openTree(t, 16)
	rid1 := page.RID{Page: 1, Slot: 0}
	rid2 := page.RID{Page: 2, Slot: 0}

	// Non-unique index: two RIDs under the same key.
	if err := m.Insert([]byte("dup"), rid1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := m.Insert([]byte("dup"), rid2); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := m.Delete([]byte("dup"), rid1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, ok, err := m.Search([]byte("dup"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !ok || got != rid2 {
		t.Fatalf("Search after deleting rid1 = %+v, ok=%v, want %+v", got, ok, rid2)
	}
}

func TestDeleteMissingKeyReturnsNotFound(t *testing.T) {
	m := openTree(t, 8)
	err := m.Delete([]byte("absent"), page.RID{Page: 1})
	if err == nil {
		t.Fatal("expected an error deleting an absent key")
	}
}

func TestDeleteThroughManyKeysTriggersMergesAndRootContraction(t *testing.T) {
	m := openTree(t, 32)

	const n = 300
	rids := make([]page.RID, n)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		rids[i] = page.RID{Page: page.PageID(i + 1), Slot: 0}
		if err := m.Insert(key, rids[i]); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	for i := 0; i < n-5; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		if err := m.Delete(key, rids[i]); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}

	for i := n - 5; i < n; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		_, ok, err := m.Search(key)
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("surviving key %d lost during deletions", i)
		}
	}
	for i := 0; i < n-5; i++ {
		key := []byte(fmt.Sprintf("k-%05d", i))
		_, ok, err := m.Search(key)
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		if ok {
			t.Fatalf("deleted key %d still present", i)
		}
	}
}
