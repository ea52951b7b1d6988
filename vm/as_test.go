package vm

import (
	"testing"

	"mipskern/defs"
	"mipskern/mem"
)

func newTestAS(t *testing.T, entries uint32) (*AddrSpace, *mem.Coremap, *TLB) {
	t.Helper()
	cm := mem.NewCoremap(0, entries)
	tlb := NewTLB()
	return Create(cm, tlb), cm, tlb
}

func TestDefineRegionPlacesHeapAboveHighestSegment(t *testing.T) {
	as, _, _ := newTestAS(t, 64)
	if err := as.DefineRegion(0x400000, 0x2000, true, false, true); err != 0 {
		t.Fatalf("DefineRegion failed: %v", err)
	}
	if as.Heap == nil {
		t.Fatal("expected heap to be created on first DefineRegion")
	}
	if as.Heap.Vstart != as.Segments.Vend+uintptr(mem.PGSIZE) {
		t.Fatalf("heap start = %#x, want one page above segment end %#x", as.Heap.Vstart, as.Segments.Vend)
	}
	if as.Heap.Vend != as.Heap.Vstart {
		t.Fatal("expected a freshly created heap to be empty")
	}
}

func TestDefineRegionPushesHeapDownForLaterSegments(t *testing.T) {
	as, _, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, false, true)
	firstHeapStart := as.Heap.Vstart

	as.DefineRegion(firstHeapStart, 0x1000, true, true, false)
	if as.Heap.Vstart <= firstHeapStart {
		t.Fatal("expected heap to be pushed further down by a later overlapping segment")
	}
}

func TestPrepareAndCompleteLoadPermissions(t *testing.T) {
	as, _, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, false, true) // r-x text segment

	if err := as.PrepareLoad(); err != 0 {
		t.Fatalf("PrepareLoad failed: %v", err)
	}
	pte := as.Dir.FindPTE(0x400000)
	if pte == nil || !pte.Write {
		t.Fatal("expected PrepareLoad to grant write access for loading")
	}

	if err := as.CompleteLoad(); err != 0 {
		t.Fatalf("CompleteLoad failed: %v", err)
	}
	pte = as.Dir.FindPTE(0x400000)
	if pte.Write {
		t.Fatal("expected CompleteLoad to revoke write access on a r-x segment")
	}
	if !pte.Read || !pte.Exec {
		t.Fatal("expected CompleteLoad to preserve read/exec")
	}
}

func TestSbrkGrowAndShrinkRoundTrip(t *testing.T) {
	as, cm, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, false, true)
	origVend := as.Heap.Vend

	grown, err := as.Sbrk(3 * mem.PGSIZE)
	if err != 0 {
		t.Fatalf("grow failed: %v", err)
	}
	if grown != origVend {
		t.Fatalf("Sbrk grow must return the OLD break, got %#x want %#x", grown, origVend)
	}
	if as.Heap.Vend != origVend+3*uintptr(mem.PGSIZE) {
		t.Fatalf("heap end after grow = %#x", as.Heap.Vend)
	}

	// Fault in one of the new heap pages so there's a frame to free on shrink.
	faultAddr := origVend
	if err := Fault(as, FaultWrite, faultAddr, NewTLB()); err != 0 {
		t.Fatalf("heap fault failed: %v", err)
	}
	freeBeforeShrink := cm.FreeCount()

	if _, err := as.Sbrk(-3 * mem.PGSIZE); err != 0 {
		t.Fatalf("shrink failed: %v", err)
	}
	if as.Heap.Vend != origVend {
		t.Fatalf("heap end after round-trip = %#x, want %#x", as.Heap.Vend, origVend)
	}
	if cm.FreeCount() != freeBeforeShrink+1 {
		t.Fatalf("expected shrink to free the faulted-in frame")
	}
}

func TestSbrkRejectsBelowHeapStart(t *testing.T) {
	as, _, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, false, true)
	if _, err := as.Sbrk(-(1 << 20)); err != defs.EINVAL {
		t.Fatalf("expected EINVAL shrinking below heap start, got %v", err)
	}
}

func TestSbrkAllowsHeapEndExactlyAtStackFloor(t *testing.T) {
	as, _, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, false, true)

	floor := USERSTACK - STACKPAGES*uintptr(mem.PGSIZE)
	delta := int(floor - as.Heap.Vend)

	if _, err := as.Sbrk(delta); err != 0 {
		t.Fatalf("Sbrk to the stack floor: got err %v, want success", err)
	}
	if as.Heap.Vend != floor {
		t.Fatalf("heap end = %#x, want exactly the stack floor %#x", as.Heap.Vend, floor)
	}

	if _, err := as.Sbrk(int(mem.PGSIZE)); err != defs.ENOMEM {
		t.Fatalf("growing one page past the stack floor: got %v, want ENOMEM", err)
	}
}

func TestSbrkZeroReturnsCurrentBreakUnchanged(t *testing.T) {
	as, _, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, false, true)
	before := as.Heap.Vend
	got, err := as.Sbrk(0)
	if err != 0 || got != before {
		t.Fatalf("Sbrk(0) = (%#x, %v), want (%#x, 0)", got, err, before)
	}
}

func TestCopyProducesIndependentByteIdenticalFrames(t *testing.T) {
	as, cm, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x1000, true, true, false)
	if err := Fault(as, FaultWrite, 0x400000, NewTLB()); err != 0 {
		t.Fatalf("fault failed: %v", err)
	}
	parentPte := as.Dir.FindPTE(0x400000)
	copy(cm.Dmap(parentPte.Pbase), []byte("hello, child"))

	child, err := as.Copy()
	if err != 0 {
		t.Fatalf("Copy failed: %v", err)
	}
	childPte := child.Dir.FindPTE(0x400000)
	if !childPte.Valid() {
		t.Fatal("expected child's bound page to stay bound after copy")
	}
	if childPte.Pbase == parentPte.Pbase {
		t.Fatal("expected an independent physical frame in the child")
	}
	parentBytes := cm.Dmap(parentPte.Pbase)[:12]
	childBytes := cm.Dmap(childPte.Pbase)[:12]
	if string(parentBytes) != string(childBytes) {
		t.Fatalf("child frame bytes = %q, want %q", childBytes, parentBytes)
	}

	// Mutating the parent's frame must not affect the child's copy.
	cm.Dmap(parentPte.Pbase)[0] = 'X'
	if cm.Dmap(childPte.Pbase)[0] == 'X' {
		t.Fatal("parent and child frames are not independent")
	}
}

func TestDestroyFreesAllValidFrames(t *testing.T) {
	as, cm, _ := newTestAS(t, 64)
	as.DefineRegion(0x400000, 0x2000, true, true, false)
	Fault(as, FaultWrite, 0x400000, NewTLB())
	Fault(as, FaultWrite, 0x400000+uintptr(mem.PGSIZE), NewTLB())

	before := cm.FreeCount()
	as.Destroy()
	if cm.FreeCount() != before+2 {
		t.Fatalf("free count after Destroy = %d, want %d", cm.FreeCount(), before+2)
	}
	if as.Segments != nil || as.Heap != nil {
		t.Fatal("expected Destroy to clear segments and heap")
	}
}
