package vm

import (
	"mipskern/defs"
	"mipskern/mem"
)

// FaultKind classifies the access that triggered vm_fault (spec.md §4.3).
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultReadOnly          // write attempted against a page already mapped read-only
	FaultWrite
)

// Fault resolves a TLB-refill fault at addr against as, following the
// validation ladder of spec.md §4.3 exactly: no address space is an
// early-boot panic condition surfaced as EFAULT; otherwise the address
// must fall within a segment, the heap, or the stack, in that order of
// preference, or the fault is invalid. On success it lazily allocates a
// frame if needed and writes a TLB entry; it never blocks, so it is safe
// to call with interrupts disabled.
func Fault(as *AddrSpace, kind FaultKind, addr uintptr, tlb *TLB) defs.Err_t {
	if as == nil {
		return defs.EFAULT
	}
	addr &= ^uintptr(mem.PGOFFSET)

	as.LockPmap()
	defer as.UnlockPmap()

	read, write, exec, dir, ok := as.classify(addr)
	if !ok {
		return defs.EFAULT
	}

	pte := as.Dir.FindPTE(addr)
	if pte == nil {
		if err := as.Dir.AllocSegmentPTE(addr, 1, dir, read, write, exec); err != 0 {
			return err
		}
		pte = as.Dir.FindPTE(addr)
	}
	if !pte.valid {
		pa, ok := as.cm.SinglePageAlloc(mem.USER)
		if !ok {
			return defs.ENOMEM
		}
		as.Dir.bindFrame(addr, pa)
		pte = as.Dir.FindPTE(addr)
	}

	switch kind {
	case FaultRead:
		if !pte.Read {
			return defs.EFAULT
		}
	case FaultWrite:
		if !pte.Write {
			return defs.EFAULT
		}
	case FaultReadOnly:
		return defs.EFAULT
	default:
		return defs.EINVAL
	}

	tlb.Write(uint32(addr), uint32(pte.Pbase), pte.Write)
	return 0
}

// classify implements the segment/heap/stack lookup of spec.md §4.3's
// validation ladder. The caller must hold as's pmap lock.
func (as *AddrSpace) classify(addr uintptr) (read, write, exec bool, dir Direction, ok bool) {
	as.lockassertPmap()
	for s := as.Segments; s != nil; s = s.next {
		if addr >= s.Vstart && addr < s.Vend {
			return s.Read, s.Write, s.Exec, Up, true
		}
	}
	if as.Heap != nil && addr >= as.Heap.Vstart && addr < as.Heap.Vend {
		return true, true, true, Up, true
	}
	if addr >= USERSTACK-STACKPAGES*uintptr(mem.PGSIZE) && addr < USERSTACK {
		return true, true, true, Down, true
	}
	return false, false, false, Up, false
}
