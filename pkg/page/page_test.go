package page

import "testing"

func TestResetAndIdentity(t *testing.T) {
	p := New()
	Reset(p, PageID(7), TypeHeap)

	if got := p.ID(); got != 7 {
		t.Fatalf("ID() = %d, want 7", got)
	}
	if got := p.Type(); got != TypeHeap {
		t.Fatalf("Type() = %d, want %d", got, TypeHeap)
	}
	if got := p.LSN(); got != 0 {
		t.Fatalf("LSN() = %d, want 0 on a fresh page", got)
	}
}

func TestSetLSN(t *testing.T) {
	p := New()
	Reset(p, 1, TypeHeap)
	p.SetLSN(42)
	if got := p.LSN(); got != 42 {
		t.Fatalf("LSN() = %d, want 42", got)
	}
}

func TestIsZero(t *testing.T) {
	p := New()
	if !IsZero(p) {
		t.Fatal("freshly allocated page should be all zero")
	}
	Reset(p, 1, TypeHeap)
	if IsZero(p) {
		t.Fatal("page tagged with an id/type should not read as zero")
	}
}

func TestRIDValid(t *testing.T) {
	if (RID{Page: InvalidPageID, Slot: 0}).Valid() {
		t.Fatal("RID with InvalidPageID should not be valid")
	}
	if !(RID{Page: 3, Slot: 0}).Valid() {
		t.Fatal("RID with a real page id should be valid")
	}
}
