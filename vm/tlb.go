// TLB models the hardware's software-refilled translation cache: a small
// fixed array of (EntryHi, EntryLo) pairs written by the fault handler
// and invalidated wholesale on address-space activation (spec.md §4.3).
//
// Register/flag naming grounded on
// other_examples/0a0fadc6_SchawnnDev-awesomeVM__internal-mips-cop0.go.go,
// the pack's only MIPS CP0/TLB model; round-robin replacement and the
// interrupt-disabled write window are grounded on
// original_source/kern/arch/mips/vm/vm.c.
package vm

import "sync"

// NUM_TLB is the number of hardware TLB entries (spec.md §4.3).
const NUM_TLB = 64

// EntryLo flag bits, named after the MIPS TLBLO_* constants the source
// kernel uses.
const (
	TLBLO_DIRTY uint32 = 1 << 10
	TLBLO_VALID uint32 = 1 << 9
)

// tlbEntry is one hardware TLB slot: EntryHi carries the virtual page
// number, EntryLo carries the physical frame number plus flags.
type tlbEntry struct {
	entryHi uint32
	entryLo uint32
	valid   bool
}

// TLB is the per-CPU (here: per-kernel-instance, since this port does not
// model multiple physical CPUs sharing one TLB) hardware TLB plus the
// spinlock and round-robin index the fault handler needs to refill it.
type TLB struct {
	mu      sync.Mutex
	entries [NUM_TLB]tlbEntry
	index   int
}

// NewTLB returns a TLB with every entry invalid.
func NewTLB() *TLB { return &TLB{} }

// Write installs (vpn, frame, dirty) at the next round-robin slot and
// advances the index modulo NUM_TLB (spec.md §4.3 "TLB write"). The
// caller is expected to have already disabled interrupts for the
// duration of this call, the way splhigh/splx bracket tlb_write in the
// source; this port models that bracketing as the mutex critical section
// itself, since there are no real interrupts to mask.
func (t *TLB) Write(vpn uint32, frame uint32, dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lo := frame | TLBLO_VALID
	if dirty {
		lo |= TLBLO_DIRTY
	}
	t.entries[t.index] = tlbEntry{entryHi: vpn, entryLo: lo, valid: true}
	t.index = (t.index + 1) % NUM_TLB
}

// Probe reports the slot index holding vpn, or -1 if none matches. Used
// by Sbrk to invalidate a single stale entry after shrinking the heap.
func (t *TLB) Probe(vpn uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].entryHi == vpn {
			return i
		}
	}
	return -1
}

// InvalidateSlot marks slot i invalid. A no-op for i < 0 so callers can
// chain it directly off Probe's result.
func (t *TLB) InvalidateSlot(i int) {
	if i < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[i] = tlbEntry{}
}

// ShootdownAll invalidates every TLB entry. Invoked at address-space
// activation (spec.md §4.3 "Shootdown"); per-entry shootdown beyond
// Sbrk's single-slot invalidate is a no-op placeholder in this design,
// matching vm_tlbshootdown in the source.
func (t *TLB) ShootdownAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		t.entries[i] = tlbEntry{}
	}
}

// Lookup reports the (frame, dirty) pair mapped for vpn, if any. Exposed
// for tests that want to assert what the fault handler actually wrote.
func (t *TLB) Lookup(vpn uint32) (frame uint32, dirty bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.valid && e.entryHi == vpn {
			return e.entryLo &^ (TLBLO_VALID | TLBLO_DIRTY), e.entryLo&TLBLO_DIRTY != 0, true
		}
	}
	return 0, false, false
}
