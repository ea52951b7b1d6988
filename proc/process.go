// Package proc implements the process table, PID allocation, and the
// fork/exec/wait/exit lifecycle machinery (spec.md §4.6), plus the
// syscall-edge entry points that drive it (spec.md §6). Grounded on
// biscuit's proc package shape as described in spec.md §3's "Process"
// record — the teacher's own proc/ directory is an empty stub in the
// retrieval pack, so the struct layout follows the spec's data model
// directly, built in the vm/fd packages' established idiom (defs.Err_t
// returns, an embedded lock guarding the mutable pointer fields).
//
// The wait rendezvous is a real counting semaphore from
// golang.org/x/sync/semaphore: a child's waitSem starts fully acquired
// (weight consumed), Exit releases it (V), and Wait acquires it (P),
// exactly the "counting semaphore initialized to zero" spec.md §3
// describes.
package proc

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"mipskern/accnt"
	"mipskern/fd"
	"mipskern/limits"
	"mipskern/vfs"
	"mipskern/vm"
)

// Process is one process-table entry (spec.md §3 "Process").
type Process struct {
	Name      string
	Pid       int
	ParentPid int

	// mu is the per-process p_lock (spec.md §5): it guards exactly the
	// pointer/count fields below, not the FD table or address-space
	// internals, which carry their own locks.
	mu      sync.Mutex
	threads int32
	as      *vm.AddrSpace
	cwd     *fd.Cwd

	Fds *fd.Table

	Exited   bool
	ExitCode int

	// Atime is the process's own user/system CPU accounting. Not part of
	// spec.md's data model, but not excluded by it either; present in the
	// proc struct family this core is ported from.
	Atime accnt.Accnt

	waitSem *semaphore.Weighted
}

func newWaitSem() *semaphore.Weighted {
	sem := semaphore.NewWeighted(1)
	sem.Acquire(context.Background(), 1) // starts empty; Exit's Release is the V
	return sem
}

// Threads reports the process's live thread count (spec.md §3; always 1
// for user processes per spec.md §5's single-threaded-user-process rule).
func (p *Process) Threads() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads
}

// AddrSpace returns the process's current address space under p_lock.
func (p *Process) AddrSpace() *vm.AddrSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.as
}

func (p *Process) setAddrSpace(as *vm.AddrSpace) {
	p.mu.Lock()
	p.as = as
	p.mu.Unlock()
}

// Activate installs as as the process's current address space and
// shoots down every TLB entry (spec.md §4.3: vm_tlbshootdown_all "is
// invoked at address-space activation"). exec's image swap goes through
// this path rather than setAddrSpace directly, and a future scheduler's
// context switch onto a different process's address space should too, so
// that a stale VPN-keyed entry from whatever ran before can never satisfy
// a lookup against the newly active image.
func (p *Process) Activate(as *vm.AddrSpace, tlb *vm.TLB) {
	p.setAddrSpace(as)
	tlb.ShootdownAll()
}

// Cwd returns the process's current working directory under p_lock.
func (p *Process) Cwd() *fd.Cwd {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// NewInitProcess creates the first process in the table: no parent, the
// given (already-built) address space, and an FD table whose console
// slots are bound to console (spec.md §4.5, §6 "Reserved FDs").
func NewInitProcess(name string, as *vm.AddrSpace, console vfs.Node) *Process {
	root := fd.NewOpenFile("/", 0, console)
	return &Process{
		Name:      name,
		ParentPid: limits.NoParent,
		threads:   1,
		as:        as,
		cwd:       fd.NewRootCwd(root),
		Fds:       fd.NewConsoleTable(console),
		waitSem:   newWaitSem(),
	}
}
