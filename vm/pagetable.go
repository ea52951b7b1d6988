// Package vm implements the per-address-space two-level page table, the
// on-fault TLB-refill handler, and the address-space object: segments,
// heap, stack, copy-on-fork, and sbrk (spec.md §4.2-4.4).
//
// Grounded on original_source/kern/vm/pagetable.c and
// original_source/kern/vm/addrspace.c for the exact algorithms, and on
// biscuit's vm/as.go for Go kernel idiom: an embedded sync.Mutex guarding
// the whole address space, defs.Err_t return codes, Lock_pmap/
// Unlock_pmap-style naming.
package vm

import (
	"mipskern/defs"
	"mipskern/mem"
)

// PAGE_TABLE_SIZE is the fanout of each page-table level: 1024 slots,
// selected by 10 bits of virtual address, for 32-bit MIPS (spec.md §4.2).
const PAGE_TABLE_SIZE = 1024

// vaddrToDir and vaddrToTable extract the directory and table indices of
// a virtual address; the low 12 bits (PGSHIFT) are the intra-page offset.
func vaddrToDir(va uintptr) int   { return int((va >> 22) & (PAGE_TABLE_SIZE - 1)) }
func vaddrToTable(va uintptr) int { return int((va >> 12) & (PAGE_TABLE_SIZE - 1)) }

// PTE is one page-table entry. valid distinguishes "reservation known,
// frame not yet allocated" (lazy) from "frame bound": valid implies
// Pbase != 0, and !valid implies Pbase == 0 (spec.md §3).
type PTE struct {
	Pbase           mem.Pa_t
	Read, Write, Exec bool
	valid           bool
}

// Valid reports whether this PTE has a bound frame.
func (p *PTE) Valid() bool { return p.valid }

type table [PAGE_TABLE_SIZE]*PTE

// PageDir is the top level of a two-level page table: a directory of
// PAGE_TABLE_SIZE slots, each either empty (nil, meaning no mapping
// exists under that 4-MiB region) or pointing at a table of PTEs.
type PageDir struct {
	dirs [PAGE_TABLE_SIZE]*table
}

// NewPageDir returns an empty page directory — every slot nil, matching
// as_create's zero-filled pt_dir.
func NewPageDir() *PageDir { return &PageDir{} }

// FindPTE is a pure lookup: nil if no table exists at va's directory
// slot, or if no PTE exists at va's table slot.
func (pd *PageDir) FindPTE(va uintptr) *PTE {
	t := pd.dirs[vaddrToDir(va)]
	if t == nil {
		return nil
	}
	return t[vaddrToTable(va)]
}

// Direction is the step direction AllocSegmentPTE walks in: UP for
// segments and the heap (growing toward higher addresses), DOWN for the
// stack (growing toward lower addresses) (spec.md §4.2).
type Direction int

const (
	Up Direction = iota
	Down
)

// AllocSegmentPTE reserves PTEs for a run of npages starting at vaddr,
// stepping +PAGE_SIZE (Up) or -PAGE_SIZE (Down) per page. Re-calling this
// on an existing PTE updates its permission bits in place without
// disturbing valid/Pbase — this is how as_complete_load tightens
// permissions after loading (spec.md §4.2).
//
// Any allocation failure partway through is NOT rolled back: table nodes
// already inserted stay in place for the address space's eventual
// Destroy to sweep.
func (pd *PageDir) AllocSegmentPTE(vaddr uintptr, npages int, dir Direction, r, w, x bool) defs.Err_t {
	cur := vaddr
	for i := 0; i < npages; i++ {
		di := vaddrToDir(cur)
		t := pd.dirs[di]
		if t == nil {
			t = &table{}
			pd.dirs[di] = t
		}
		ti := vaddrToTable(cur)
		pte := t[ti]
		if pte == nil {
			pte = &PTE{}
			t[ti] = pte
		}
		pte.Read, pte.Write, pte.Exec = r, w, x

		if dir == Up {
			cur += uintptr(mem.PGSIZE)
		} else {
			cur -= uintptr(mem.PGSIZE)
		}
	}
	return 0
}

// FreePTE releases the frame (if any) backing va's PTE to cm, then
// destroys the PTE itself. A va with no PTE at all is a no-op.
func (pd *PageDir) FreePTE(cm *mem.Coremap, va uintptr) {
	di := vaddrToDir(va)
	t := pd.dirs[di]
	if t == nil {
		return
	}
	ti := vaddrToTable(va)
	pte := t[ti]
	if pte == nil {
		return
	}
	if pte.valid {
		if pte.Pbase == 0 {
			panic("vm: valid PTE with zero Pbase")
		}
		cm.FreeKpages(pte.Pbase)
	}
	t[ti] = nil
}

// bindFrame installs pa as va's PTE's frame, marking the PTE valid. It
// panics if the PTE does not exist — callers must AllocSegmentPTE first.
func (pd *PageDir) bindFrame(va uintptr, pa mem.Pa_t) {
	pte := pd.FindPTE(va)
	if pte == nil {
		panic("vm: bindFrame on unreserved PTE")
	}
	pte.Pbase = pa
	pte.valid = true
}

// Walk invokes fn for every PTE in the directory, bound or lazy, passing
// the virtual page's address. Used by AddrSpace.Copy and AddrSpace.Destroy,
// which must visit every reservation and every live mapping (spec.md §4.4).
func (pd *PageDir) Walk(fn func(va uintptr, pte *PTE)) {
	for di, t := range pd.dirs {
		if t == nil {
			continue
		}
		for ti, pte := range t {
			if pte == nil {
				continue
			}
			va := (uintptr(di) << 22) | (uintptr(ti) << 12)
			fn(va, pte)
		}
	}
}
