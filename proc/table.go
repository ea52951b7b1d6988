package proc

import (
	"context"
	"sync"

	"mipskern/defs"
	"mipskern/limits"
)

// Table is the fixed-capacity, PID-indexed process table (spec.md §3
// "Process table"), protected by one lock held across PID allocation, the
// exit cascade, and wait reclamation (spec.md §5).
type Table struct {
	mu    sync.Mutex
	procs [limits.PIDMax + 1]*Process
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{} }

// allocPid scans from PIDMin for the first empty slot and installs p
// there. Caller must hold t.mu.
func (t *Table) allocPid(p *Process) defs.Err_t {
	for pid := limits.PIDMin; pid <= limits.PIDMax; pid++ {
		if t.procs[pid] == nil {
			p.Pid = pid
			t.procs[pid] = p
			return 0
		}
	}
	return defs.ENPROC
}

// Insert allocates a PID for p and installs it, the way the first process
// in the system registers itself (spec.md §4.6 "PID allocation").
func (t *Table) Insert(p *Process) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocPid(p)
}

// Get returns the process at pid, or nil if the slot is empty.
func (t *Table) Get(pid int) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid < limits.PIDMin || pid > limits.PIDMax {
		return nil
	}
	return t.procs[pid]
}

// Fork creates a child of parent: a new PID, the parent's name, a shared
// (refcount-bumped) cwd, a shared-description copy of the FD table, and a
// deep copy of the address space. Any step's failure unwinds everything
// allocated so far (spec.md §4.6 "Fork").
func (t *Table) Fork(parent *Process) (*Process, defs.Err_t) {
	childAs, err := parent.AddrSpace().Copy()
	if err != 0 {
		return nil, err
	}

	child := &Process{
		Name:      parent.Name,
		ParentPid: parent.Pid,
		threads:   1,
		as:        childAs,
		cwd:       parent.Cwd().Fork(),
		Fds:       parent.Fds.ForkCopy(),
		waitSem:   newWaitSem(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.allocPid(child); err != 0 {
		childAs.Destroy()
		child.Fds.Destroy()
		child.cwd.Of.Release()
		return nil, err
	}
	return child, 0
}

// Wait implements waitpid (spec.md §4.6 "Wait"). Blocks on the target's
// wait semaphore until it has exited, then reclaims its slot.
func (t *Table) Wait(caller *Process, pid int, options int, status *int) (int, defs.Err_t) {
	if pid < limits.PIDMin {
		return 0, defs.ESRCH
	}
	if options != 0 {
		return 0, defs.EINVAL
	}
	target := t.Get(pid)
	if target == nil {
		return 0, defs.ESRCH
	}
	if target.ParentPid != caller.Pid {
		return 0, defs.ECHILD
	}

	target.waitSem.Acquire(context.Background(), 1)

	if status != nil {
		*status = target.ExitCode
	}

	t.mu.Lock()
	t.procs[pid] = nil
	t.mu.Unlock()
	return pid, 0
}

// Exit implements _exit (spec.md §4.6 "Exit"): reparents live children to
// NoParent, reclaiming any that have already exited; marks the caller
// exited with its encoded status; signals the wait semaphore; and, if the
// caller is itself already an orphan, reclaims its own slot immediately
// (spec.md §9 "PID reclamation on orphan exit").
func (t *Table) Exit(p *Process, code int) {
	t.mu.Lock()
	for _, child := range t.procs {
		if child == nil || child.ParentPid != p.Pid {
			continue
		}
		child.ParentPid = limits.NoParent
		if child.Exited {
			t.procs[child.Pid] = nil
		}
	}

	p.Exited = true
	p.ExitCode = defs.EncodeExitStatus(code)
	p.waitSem.Release(1)

	if p.ParentPid == limits.NoParent {
		t.procs[p.Pid] = nil
	}
	t.mu.Unlock()

	p.Fds.Destroy()
	p.AddrSpace().Destroy()
}
