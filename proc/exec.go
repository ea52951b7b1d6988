package proc

import (
	"mipskern/defs"
	"mipskern/limits"
	"mipskern/mem"
	"mipskern/vm"
)

// Loader is the ELF-loader external collaborator (spec.md §1): given a
// freshly created address space, it defines segments and loads their
// contents, calling PrepareLoad/CompleteLoad itself around the copy.
type Loader interface {
	Load(as *vm.AddrSpace) defs.Err_t
}

const wordSize = 4

// Exec implements execv (spec.md §4.6 "Exec", §9 "execv atomicity"
// variant (a)): loads the new program into a *fresh* address space and
// only activates it once loading and stack setup have both succeeded, so
// a failure at any point before the swap leaves the caller running its
// old image untouched. Activation (Process.Activate) installs the new
// address space and shoots down the TLB in one step, so no stale entry
// from the old image can outlive the swap (spec.md §4.3).
//
// Returns the entry arguments (argc, pointer to argv[0], stack pointer)
// the caller would hand to user-mode entry; a real trap-return glue layer
// (external collaborator) would consume these to resume execution.
func Exec(p *Process, cm *mem.Coremap, tlb *vm.TLB, path string, argv []string, loader Loader) (argc int, argvAddr, sp uintptr, err defs.Err_t) {
	if len(path) < 2 {
		return 0, 0, 0, defs.EINVAL
	}
	if len(argv) > limits.NArgMax {
		return 0, 0, 0, defs.EINVAL
	}

	newAs := vm.Create(cm, tlb)
	if err := loader.Load(newAs); err != 0 {
		return 0, 0, 0, err
	}
	newAs.DefineStack()

	argvAddr, sp, totalBytes, err := layoutArgv(argv)
	if err != 0 {
		return 0, 0, 0, err
	}
	if totalBytes > limits.ArgMax {
		return 0, 0, 0, defs.EINVAL
	}
	if err := writeArgvStack(newAs, cm, tlb, argv, argvAddr); err != 0 {
		return 0, 0, 0, err
	}

	oldAs := p.AddrSpace()
	p.Activate(newAs, tlb)
	oldAs.Destroy()

	return len(argv), argvAddr, sp, 0
}

// argvOffsets returns each string's byte offset within the packed,
// word-aligned strings block, and the block's total size.
func argvOffsets(argv []string) (offsets []int, stringsBytes int) {
	offsets = make([]int, len(argv))
	for i, s := range argv {
		offsets[i] = stringsBytes
		stringsBytes += roundup4(len(s) + 1) // + NUL terminator
	}
	return offsets, stringsBytes
}

// layoutArgv computes where the pointer array and the packed strings land
// on a fresh stack, following spec.md §6's "User-stack argv layout": from
// low to high, the null-terminated pointer array, then the word-aligned
// packed strings, then the original top of stack (USERSTACK). Returns the
// pointer array's base (== the new stack pointer) and the total byte
// count consumed, for the ARG_MAX check.
func layoutArgv(argv []string) (argvAddr, sp uintptr, totalBytes int, err defs.Err_t) {
	_, stringsBytes := argvOffsets(argv)
	pointerBytes := (len(argv) + 1) * wordSize

	stringsBase := vm.USERSTACK - uintptr(stringsBytes)
	base := stringsBase - uintptr(pointerBytes)

	floor := vm.USERSTACK - vm.STACKPAGES*uintptr(mem.PGSIZE)
	if base < floor {
		return 0, 0, 0, defs.ENOMEM
	}
	return base, base, stringsBytes + pointerBytes, 0
}

func roundup4(n int) int { return (n + wordSize - 1) &^ (wordSize - 1) }

// writeArgvStack lays out argv on as's stack exactly where layoutArgv
// computed, faulting in each page of stack it touches along the way
// (spec.md §4.3: the stack grows lazily through the fault path, even for
// the kernel's own writes at exec time).
func writeArgvStack(as *vm.AddrSpace, cm *mem.Coremap, tlb *vm.TLB, argv []string, argvAddr uintptr) defs.Err_t {
	offsets, stringsBytes := argvOffsets(argv)
	stringsBase := vm.USERSTACK - uintptr(stringsBytes)

	for i, s := range argv {
		addr := stringsBase + uintptr(offsets[i])
		if err := writeUserBytes(as, cm, tlb, addr, append([]byte(s), 0)); err != 0 {
			return err
		}
	}

	ptrBuf := make([]byte, wordSize)
	for i, off := range offsets {
		putWord(ptrBuf, uint32(stringsBase)+uint32(off))
		if err := writeUserBytes(as, cm, tlb, argvAddr+uintptr(i*wordSize), ptrBuf); err != 0 {
			return err
		}
	}
	putWord(ptrBuf, 0)
	if err := writeUserBytes(as, cm, tlb, argvAddr+uintptr(len(argv)*wordSize), ptrBuf); err != 0 {
		return err
	}
	return 0
}

func putWord(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// writeUserBytes copies data into as's user address space starting at
// addr, faulting in whatever pages are not yet bound and handling writes
// that cross a page boundary one frame at a time.
func writeUserBytes(as *vm.AddrSpace, cm *mem.Coremap, tlb *vm.TLB, addr uintptr, data []byte) defs.Err_t {
	for len(data) > 0 {
		if err := vm.Fault(as, vm.FaultWrite, addr, tlb); err != 0 {
			return err
		}
		pte := as.Dir.FindPTE(addr)
		pageOff := int(addr & uintptr(mem.PGOFFSET))
		frame := cm.Dmap(pte.Pbase)
		n := copy(frame[pageOff:], data)
		data = data[n:]
		addr += uintptr(n)
	}
	return 0
}
