package proc

import (
	"testing"

	"mipskern/defs"
	"mipskern/mem"
	"mipskern/vm"
)

type fakeLoader struct {
	vaddr   uintptr
	memsize uintptr
}

func (l fakeLoader) Load(as *vm.AddrSpace) defs.Err_t {
	return as.DefineRegion(l.vaddr, l.memsize, true, true, true)
}

func TestExecRejectsShortPath(t *testing.T) {
	p, _, cm, tlb := newInit(t, 64)
	_, _, _, err := Exec(p, cm, tlb, "x", []string{"x"}, fakeLoader{0x400000, 0x1000})
	if err != defs.EINVAL {
		t.Fatalf("got %v, want EINVAL", err)
	}
}

func TestExecRejectsLoaderFailureWithoutTouchingOldAddrSpace(t *testing.T) {
	p, _, cm, tlb := newInit(t, 64)
	before := p.AddrSpace()

	failing := failingLoader{}
	_, _, _, err := Exec(p, cm, tlb, "/bin/bad", []string{"bad"}, failing)
	if err == 0 {
		t.Fatal("expected loader failure to propagate")
	}
	if p.AddrSpace() != before {
		t.Fatal("expected a failed exec to leave the old address space installed")
	}
}

type failingLoader struct{}

func (failingLoader) Load(as *vm.AddrSpace) defs.Err_t { return defs.ENOMEM }

func TestExecLaysOutArgvAndSwapsAddrSpace(t *testing.T) {
	p, _, cm, tlb := newInit(t, 256)
	oldAs := p.AddrSpace()

	argv := []string{"echo", "hi"}
	argc, argvAddr, sp, err := Exec(p, cm, tlb, "/bin/echo", argv, fakeLoader{0x400000, 0x1000})
	if err != 0 {
		t.Fatalf("exec failed: %v", err)
	}
	if argc != len(argv) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}
	if argvAddr != sp {
		t.Fatalf("expected argv pointer to equal the new stack pointer")
	}
	if p.AddrSpace() == oldAs {
		t.Fatal("expected exec to install a fresh address space")
	}

	newAs := p.AddrSpace()
	// Read back argv[0]'s pointer and the string it points to.
	wordAt := func(addr uintptr) uint32 {
		pte := newAs.Dir.FindPTE(addr)
		frame := cm.Dmap(pte.Pbase)
		off := int(addr & uintptr(mem.PGOFFSET))
		return uint32(frame[off]) | uint32(frame[off+1])<<8 | uint32(frame[off+2])<<16 | uint32(frame[off+3])<<24
	}
	strAt := func(addr uintptr, n int) string {
		pte := newAs.Dir.FindPTE(addr)
		frame := cm.Dmap(pte.Pbase)
		off := int(addr & uintptr(mem.PGOFFSET))
		return string(frame[off : off+n])
	}

	ptr0 := wordAt(argvAddr)
	if got := strAt(uintptr(ptr0), len("echo")); got != "echo" {
		t.Fatalf("argv[0] = %q, want %q", got, "echo")
	}
	ptr1 := wordAt(argvAddr + 4)
	if got := strAt(uintptr(ptr1), len("hi")); got != "hi" {
		t.Fatalf("argv[1] = %q, want %q", got, "hi")
	}
	termPtr := wordAt(argvAddr + 8)
	if termPtr != 0 {
		t.Fatalf("argv terminator = %#x, want 0", termPtr)
	}
}

func TestExecActivatesNewAddrSpaceAndShootsDownTLB(t *testing.T) {
	p, _, cm, tlb := newInit(t, 256)

	argv := []string{"echo", "hi"}
	_, argvAddr, _, err := Exec(p, cm, tlb, "/bin/echo", argv, fakeLoader{0x400000, 0x1000})
	if err != 0 {
		t.Fatalf("first exec failed: %v", err)
	}
	// TLB entries are keyed by the page-aligned virtual address Fault writes.
	argvPage := uint32(argvAddr &^ uintptr(mem.PGOFFSET))
	// writeArgvStack faults in and TLB-writes the argv page while building
	// the new image; Activate's shootdown must still wipe it, since a
	// stale VPN-keyed entry surviving activation is exactly what would let
	// a later process hit on a previous image's frame.
	if _, _, ok := tlb.Lookup(argvPage); ok {
		t.Fatal("expected exec's activation to shoot down every TLB entry, including ones it just wrote")
	}

	// Re-touch the page: this must re-fault (lazily) rather than silently
	// serving a stale mapping, and must find the freshly activated image's
	// own binding.
	if err := vm.Fault(p.AddrSpace(), vm.FaultWrite, argvAddr, tlb); err != 0 {
		t.Fatalf("re-fault after shootdown: %v", err)
	}
	pte := p.AddrSpace().Dir.FindPTE(argvAddr)
	frame, _, ok := tlb.Lookup(uint32(argvAddr))
	if !ok || frame != uint32(pte.Pbase) {
		t.Fatal("expected the re-fault to install a TLB entry for the active address space's own frame")
	}

	// Exec again: the second image's argv lands at the same virtual
	// address as the first's, which is exactly the scenario a missing
	// shootdown would get wrong.
	secondOldAs := p.AddrSpace()
	_, argvAddr2, _, err := Exec(p, cm, tlb, "/bin/echo", argv, fakeLoader{0x400000, 0x1000})
	if err != 0 {
		t.Fatalf("second exec failed: %v", err)
	}
	if argvAddr2 != argvAddr {
		t.Fatalf("expected both execs to lay out argv at the same address, got %#x and %#x", argvAddr, argvAddr2)
	}
	if p.AddrSpace() == secondOldAs {
		t.Fatal("expected the second exec to install yet another fresh address space")
	}
	if _, _, ok := tlb.Lookup(uint32(argvAddr2 &^ uintptr(mem.PGOFFSET))); ok {
		t.Fatal("expected the second exec's activation to also shoot down the TLB")
	}
}

func TestExecRejectsTooManyArgs(t *testing.T) {
	p, _, cm, tlb := newInit(t, 64)
	argv := make([]string, 100)
	for i := range argv {
		argv[i] = "a"
	}
	_, _, _, err := Exec(p, cm, tlb, "/bin/x", argv, fakeLoader{0x400000, 0x1000})
	if err != defs.EINVAL {
		t.Fatalf("got %v, want EINVAL", err)
	}
}

func TestExecStackFaultZeroesFrame(t *testing.T) {
	p, _, cm, tlb := newInit(t, 64)
	before := cm.FreeCount()

	_, argvAddr, _, err := Exec(p, cm, tlb, "/bin/x", []string{"x"}, fakeLoader{0x400000, 0x1000})
	if err != 0 {
		t.Fatalf("exec failed: %v", err)
	}
	if cm.FreeCount() >= before {
		t.Fatal("expected exec's stack writes to consume at least one frame")
	}

	as := p.AddrSpace()
	pte := as.Dir.FindPTE(argvAddr)
	if pte == nil || !pte.Valid() {
		t.Fatal("expected the argv page to be bound after exec")
	}
	// Bytes beyond what exec wrote on a freshly allocated frame must still
	// be zero (spec.md §8 scenario 3).
	frame := cm.Dmap(pte.Pbase)
	if frame[len(frame)-1] != 0 {
		t.Fatal("expected unwritten tail of a freshly faulted frame to remain zero")
	}
}
