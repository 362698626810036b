package page

import "testing"

func TestMetaRoundTrip(t *testing.T) {
	p := New()
	InitMeta(p)
	if !ValidMeta(p) {
		t.Fatal("freshly initialized meta page should be valid")
	}

	p.SetMetaRoot(3)
	p.SetMetaFreeList(9)
	p.SetMetaNumPages(12)
	p.SetMetaLSN(100)

	if p.MetaRoot() != 3 {
		t.Fatalf("MetaRoot() = %d, want 3", p.MetaRoot())
	}
	if p.MetaFreeList() != 9 {
		t.Fatalf("MetaFreeList() = %d, want 9", p.MetaFreeList())
	}
	if p.MetaNumPages() != 12 {
		t.Fatalf("MetaNumPages() = %d, want 12", p.MetaNumPages())
	}
	if p.MetaLSN() != 100 {
		t.Fatalf("MetaLSN() = %d, want 100", p.MetaLSN())
	}
}

func TestValidMetaRejectsNonMetaPage(t *testing.T) {
	p := New()
	InitHeap(p, 1)
	if ValidMeta(p) {
		t.Fatal("a heap page should never read as a valid meta page")
	}
}

func TestFreeListNodeChain(t *testing.T) {
	p := New()
	InitFreeListNode(p, 5, 2)
	if p.FreeListNext() != 2 {
		t.Fatalf("FreeListNext() = %d, want 2", p.FreeListNext())
	}
	if p.Type() != TypeFreeList {
		t.Fatalf("Type() = %d, want TypeFreeList", p.Type())
	}
}
