package page

import "testing"

func TestHeapInsertGet(t *testing.T) {
	p := New()
	InitHeap(p, 1)

	slot, ok := p.InsertTuple([]byte("hello"))
	if !ok {
		t.Fatal("InsertTuple failed on empty page")
	}
	if slot != 0 {
		t.Fatalf("first slot = %d, want 0", slot)
	}

	got, ok := p.GetTuple(slot)
	if !ok {
		t.Fatal("GetTuple(0) not found")
	}
	if string(got) != "hello" {
		t.Fatalf("GetTuple(0) = %q, want %q", got, "hello")
	}
	if p.NumSlots() != 1 {
		t.Fatalf("NumSlots() = %d, want 1", p.NumSlots())
	}
}

func TestHeapDeleteTombstone(t *testing.T) {
	p := New()
	InitHeap(p, 1)
	slot, _ := p.InsertTuple([]byte("x"))

	p.DeleteSlot(slot)
	if !p.IsDeleted(slot) {
		t.Fatal("slot should be tombstoned after DeleteSlot")
	}
	if _, ok := p.GetTuple(slot); ok {
		t.Fatal("GetTuple should not return a deleted slot's payload")
	}
}

func TestHeapReuseDeletedSlot(t *testing.T) {
	p := New()
	InitHeap(p, 1)
	slot, _ := p.InsertTuple([]byte("abcdef"))
	p.DeleteSlot(slot)

	before := p.NumSlots()
	reused, ok := p.InsertTuple([]byte("xy"))
	if !ok {
		t.Fatal("InsertTuple should reuse the deleted slot's space")
	}
	if reused != slot {
		t.Fatalf("reused slot = %d, want %d (the deleted one)", reused, slot)
	}
	if p.NumSlots() != before {
		t.Fatalf("NumSlots() grew on reuse: got %d, want %d", p.NumSlots(), before)
	}
}

func TestHeapUpdateInPlaceVsForward(t *testing.T) {
	p := New()
	InitHeap(p, 1)
	slot, _ := p.InsertTuple([]byte("abcdefgh"))

	if !p.UpdateInPlace(slot, []byte("short")) {
		t.Fatal("shrinking update should fit in place")
	}
	got, _ := p.GetTuple(slot)
	if string(got) != "short" {
		t.Fatalf("GetTuple after in-place update = %q", got)
	}

	if p.UpdateInPlace(slot, []byte("this-is-way-too-long-to-fit")) {
		t.Fatal("enlarging update beyond reserved space must fail")
	}
}

func TestHeapForwarding(t *testing.T) {
	p := New()
	InitHeap(p, 5)
	slot, _ := p.InsertTuple([]byte("v"))

	target := RID{Page: 9, Slot: 3}
	p.SetForward(slot, target)

	if !p.IsForwarded(slot) {
		t.Fatal("slot should report forwarded after SetForward")
	}
	if got := p.ForwardTarget(slot); got != target {
		t.Fatalf("ForwardTarget = %+v, want %+v", got, target)
	}
	if _, ok := p.GetTuple(slot); ok {
		t.Fatal("GetTuple on a forwarded slot should not return a payload")
	}
}

func TestHeapCompactPreservesLiveSlots(t *testing.T) {
	p := New()
	InitHeap(p, 1)
	s0, _ := p.InsertTuple([]byte("keep-me"))
	s1, _ := p.InsertTuple([]byte("drop-me"))
	p.DeleteSlot(s1)

	p.Compact()

	got, ok := p.GetTuple(s0)
	if !ok || string(got) != "keep-me" {
		t.Fatalf("live slot %d lost after Compact: got=%q ok=%v", s0, got, ok)
	}
	if !p.IsDeleted(s1) {
		t.Fatal("deleted slot should remain tombstoned after Compact")
	}
}

func TestHeapFreeSpaceShrinksOnInsert(t *testing.T) {
	p := New()
	InitHeap(p, 1)
	before := p.FreeSpace()
	p.InsertTuple([]byte("0123456789"))
	after := p.FreeSpace()
	if after >= before {
		t.Fatalf("FreeSpace did not shrink: before=%d after=%d", before, after)
	}
}
