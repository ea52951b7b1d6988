package vm

import (
	"sync"

	"mipskern/defs"
	"mipskern/mem"
	"mipskern/util"
)

// USERSTACK is the fixed top of every process's stack region; USERSPACETOP
// bounds user-space addresses (spec.md §6 "Virtual-address map"). On
// 32-bit MIPS with a 2GB/2GB kernel/user split the two coincide.
const (
	USERSTACK    uintptr = 0x80000000
	USERSPACETOP uintptr = USERSTACK
	STACKPAGES           = 16
)

// Segment describes one contiguous virtual region loaded from a program
// header: [Vstart, Vend), page-aligned, with permanent r/w/x permissions
// (spec.md §3). Segments form an insertion-ordered singly linked list.
type Segment struct {
	Vstart, Vend            uintptr
	Npages                  int
	Read, Write, Exec       bool
	next                    *Segment
}

// Heap is the single segment-like record tracking the process's sbrk
// region: Vstart is fixed at load time one page above the highest
// segment; Vend grows and shrinks via Sbrk. The fault handler maps heap
// pages read+write+execute (see classify in fault.go).
type Heap struct {
	Vstart, Vend uintptr
}

// AddrSpace owns exactly one page directory, one segment list, and one
// heap record (spec.md §3 "Address space"). The embedded mutex guards all
// three plus every PTE reachable through the directory, mirroring
// biscuit's Vm_t: one lock for pmap, vmregion, and the heap/segment
// bookkeeping together.
type AddrSpace struct {
	sync.Mutex
	pgfltaken bool

	Dir      *PageDir
	Segments *Segment
	segTail  *Segment
	Heap     *Heap

	cm  *mem.Coremap
	tlb *TLB
}

// LockPmap acquires the address-space mutex and marks that page-table
// manipulation is in progress, the way biscuit's Vm_t.Lock_pmap does —
// lockassertPmap checks that mark to catch a helper called without the
// lock held.
func (as *AddrSpace) LockPmap() {
	as.Lock()
	as.pgfltaken = true
}

// UnlockPmap releases the address-space mutex.
func (as *AddrSpace) UnlockPmap() {
	as.pgfltaken = false
	as.Unlock()
}

func (as *AddrSpace) lockassertPmap() {
	if !as.pgfltaken {
		panic("vm: pmap lock must be held")
	}
}

// Create allocates an address-space record with an empty page directory,
// no segments, and no heap (spec.md §4.4 "Create").
func Create(cm *mem.Coremap, tlb *TLB) *AddrSpace {
	return &AddrSpace{Dir: NewPageDir(), cm: cm, tlb: tlb}
}

// DefineRegion is called by the ELF loader once per program header. It
// aligns vaddr down and memsize up to page granularity, appends a new
// segment at the tail of the list, and — on the first segment — creates
// the heap one page above the segment's end. Every subsequent call that
// pushes the highest segment's end further down also pushes the heap
// down with it (spec.md §4.4 "Define region").
func (as *AddrSpace) DefineRegion(vaddr uintptr, memsize uintptr, r, w, x bool) defs.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()

	memsize += vaddr & uintptr(mem.PGOFFSET)
	vaddr &= ^uintptr(mem.PGOFFSET)
	memsize = uintptr(util.Roundup(int(memsize), mem.PGSIZE))
	npages := int(memsize) / mem.PGSIZE

	seg := &Segment{
		Vstart: vaddr,
		Vend:   vaddr + memsize,
		Npages: npages,
		Read:   r, Write: w, Exec: x,
	}

	if as.Segments == nil {
		as.Segments = seg
		as.segTail = seg
		as.Heap = &Heap{Vstart: seg.Vend + uintptr(mem.PGSIZE), Vend: seg.Vend + uintptr(mem.PGSIZE)}
	} else {
		as.segTail.next = seg
		as.segTail = seg
		if seg.Vend+uintptr(mem.PGSIZE) > as.Heap.Vstart {
			as.Heap.Vstart = seg.Vend + uintptr(mem.PGSIZE)
			as.Heap.Vend = as.Heap.Vstart
		}
	}
	return 0
}

// PrepareLoad pre-reserves PTEs for every segment with read+write+execute
// all granted, so the ELF loader may write into read-only text/rodata
// while populating it (spec.md §4.4 "Prepare load").
func (as *AddrSpace) PrepareLoad() defs.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()
	for s := as.Segments; s != nil; s = s.next {
		if err := as.Dir.AllocSegmentPTE(s.Vstart, s.Npages, Up, true, true, true); err != 0 {
			return err
		}
	}
	return 0
}

// CompleteLoad re-stamps each segment's PTEs with its true permissions,
// undoing PrepareLoad's blanket grant (spec.md §4.4 "Complete load").
func (as *AddrSpace) CompleteLoad() defs.Err_t {
	as.LockPmap()
	defer as.UnlockPmap()
	for s := as.Segments; s != nil; s = s.next {
		if err := as.Dir.AllocSegmentPTE(s.Vstart, s.Npages, Up, s.Read, s.Write, s.Exec); err != 0 {
			return err
		}
	}
	return 0
}

// DefineStack returns USERSTACK; no PTEs are pre-reserved, since the
// stack grows lazily through the fault path (spec.md §4.4).
func (as *AddrSpace) DefineStack() uintptr {
	return USERSTACK
}

// Copy deep-copies the segment list and heap record, then walks every
// existing PTE: valid PTEs get a freshly allocated USER frame with the
// old frame's bytes copied in; lazy (reserved, unbound) PTEs have their
// reservation copied so the child faults exactly the way the parent
// would have (spec.md §4.4 "Copy (fork)").
func (as *AddrSpace) Copy() (*AddrSpace, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()

	child := Create(as.cm, as.tlb)

	for s := as.Segments; s != nil; s = s.next {
		cs := *s
		cs.next = nil
		if child.Segments == nil {
			child.Segments = &cs
			child.segTail = &cs
		} else {
			child.segTail.next = &cs
			child.segTail = &cs
		}
	}
	if as.Heap != nil {
		h := *as.Heap
		child.Heap = &h
	}

	var failed defs.Err_t
	as.Dir.Walk(func(va uintptr, pte *PTE) {
		if failed != 0 {
			return
		}
		if err := child.Dir.AllocSegmentPTE(va, 1, Up, pte.Read, pte.Write, pte.Exec); err != 0 {
			failed = err
			return
		}
		if !pte.valid {
			return
		}
		newPa, ok := as.cm.SinglePageAlloc(mem.USER)
		if !ok {
			failed = defs.ENOMEM
			return
		}
		copy(as.cm.Dmap(newPa), as.cm.Dmap(pte.Pbase))
		child.Dir.bindFrame(va, newPa)
	})
	if failed != 0 {
		child.Destroy()
		return nil, failed
	}
	return child, 0
}

// Destroy walks every table and every PTE, freeing valid frames back to
// the coremap; the page-table nodes, segment list, heap record, and
// directory are released by letting Go's GC reclaim them once this
// AddrSpace is unreachable (spec.md §4.4 "Destroy").
func (as *AddrSpace) Destroy() {
	as.LockPmap()
	defer as.UnlockPmap()
	as.Dir.Walk(func(va uintptr, pte *PTE) {
		if pte.valid {
			as.cm.FreeKpages(pte.Pbase)
		}
	})
	as.Dir = NewPageDir()
	as.Segments, as.segTail, as.Heap = nil, nil, nil
}

// Sbrk implements the sbrk-style heap resize (spec.md §4.4). delta == 0
// returns the current heap end without modifying anything. Per spec.md
// §9's resolved open question, the lower bound check is exactly
// new_vend >= heap.Vstart — no magic-number floor on the negative delta.
func (as *AddrSpace) Sbrk(delta int) (uintptr, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()

	if as.Heap == nil {
		panic("vm: Sbrk on address space with no heap")
	}
	if delta == 0 {
		return as.Heap.Vend, 0
	}

	newVend := uintptr(int(as.Heap.Vend)+delta) & uintptr(mem.PGMASK)
	if newVend < as.Heap.Vstart {
		return 0, defs.EINVAL
	}
	if newVend > USERSTACK-STACKPAGES*uintptr(mem.PGSIZE) || newVend > USERSPACETOP {
		return 0, defs.ENOMEM
	}

	old := as.Heap.Vend
	if newVend < old {
		for va := newVend; va < old; va += uintptr(mem.PGSIZE) {
			pte := as.Dir.FindPTE(va)
			if pte != nil && pte.valid {
				as.cm.FreeKpages(pte.Pbase)
				pte.valid = false
				pte.Pbase = 0
				if slot := as.tlb.Probe(uint32(va)); slot >= 0 {
					as.tlb.InvalidateSlot(slot)
				}
			}
		}
	}
	as.Heap.Vend = newVend
	return old, 0
}
