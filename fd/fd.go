// Package fd implements the per-process file-descriptor table and the
// shared, reference-counted open-file description it indexes (spec.md
// §4.5). Grounded on biscuit's fd.Fd_t / Cwd_t (teacherref_src/fd/fd.go):
// the same split between a thin table slot and a heavier shared
// description object, the same Copyfd-style duplication on fork/dup2.
package fd

import (
	"sync"

	"mipskern/defs"
	"mipskern/limits"
	"mipskern/vfs"
)

// OpenFile is the shared state behind one or more table slots: canonical
// path, open flags, current seek offset, a reference count, and the VFS
// node it names (spec.md §3 "Open-file description"). All of offset,
// refcount, and the node's write serialization are protected by mu.
type OpenFile struct {
	mu       sync.Mutex
	Path     string
	Flags    int
	offset   int64
	refcount int32
	Node     vfs.Node
}

// NewOpenFile returns a fresh description with refcount 1, as produced by
// open (spec.md §4.5 "lifecycle").
func NewOpenFile(path string, flags int, node vfs.Node) *OpenFile {
	return &OpenFile{Path: path, Flags: flags, Node: node, refcount: 1}
}

// Dup increments the description's refcount, the way dup2 and fork share
// one description across multiple table slots.
func (of *OpenFile) Dup() {
	of.mu.Lock()
	of.refcount++
	of.mu.Unlock()
}

// Release decrements the refcount and closes the underlying VFS node once
// it reaches zero (spec.md §4.5 "lifecycle"). Returns whatever the node's
// Close reported, or 0 if refcount did not yet reach zero.
func (of *OpenFile) Release() defs.Err_t {
	of.mu.Lock()
	of.refcount--
	dead := of.refcount == 0
	of.mu.Unlock()
	if !dead {
		return 0
	}
	return of.Node.Close()
}

func (of *OpenFile) accmode() int { return of.Flags & defs.O_ACCMODE }

// Read reads up to len(p) bytes at the description's current offset,
// advancing it by the number of bytes actually read.
func (of *OpenFile) Read(p []byte) (int, defs.Err_t) {
	of.mu.Lock()
	defer of.mu.Unlock()
	if of.accmode() == defs.O_WRONLY {
		return 0, defs.EACCMODE
	}
	n, err := of.Node.ReadAt(p, of.offset)
	if err != 0 {
		return 0, err
	}
	of.offset += int64(n)
	return n, 0
}

// Write writes p at the description's current offset, advancing it by
// len(p).
func (of *OpenFile) Write(p []byte) (int, defs.Err_t) {
	of.mu.Lock()
	defer of.mu.Unlock()
	if of.accmode() == defs.O_RDONLY {
		return 0, defs.EACCMODE
	}
	n, err := of.Node.WriteAt(p, of.offset)
	if err != 0 {
		return 0, err
	}
	of.offset += int64(n)
	return n, 0
}

// Seek repositions the description's offset per lseek semantics (spec.md
// §6). A negative resulting offset is rejected with EINVAL.
func (of *OpenFile) Seek(pos int64, whence int) (int64, defs.Err_t) {
	of.mu.Lock()
	defer of.mu.Unlock()
	if !of.Node.Seekable() {
		return 0, defs.ESPIPE
	}
	var newOff int64
	switch whence {
	case defs.SEEK_SET:
		newOff = pos
	case defs.SEEK_CUR:
		newOff = of.offset + pos
	case defs.SEEK_END:
		newOff = of.Node.Size() + pos
	default:
		return 0, defs.EINVAL
	}
	if newOff < 0 {
		return 0, defs.EINVAL
	}
	of.offset = newOff
	return newOff, 0
}

// Table is the fixed-size per-process FD array (spec.md §4.5 "Per-process
// table"). Slots run [0, limits.OpenMax); 0-2 are the standard streams and
// FindAvailable hands out slots from 3 upward.
type Table struct {
	mu    sync.Mutex
	slots [limits.OpenMax]*OpenFile
}

// NewConsoleTable returns a table with slots 0/1/2 pre-bound to console,
// stdin read-only and stdout/stderr write-only, each its own description
// over the same console node (spec.md §4.5, §6 "Reserved FDs").
func NewConsoleTable(console vfs.Node) *Table {
	t := &Table{}
	t.slots[0] = NewOpenFile(vfs.ConsolePath, defs.O_RDONLY, console)
	t.slots[1] = NewOpenFile(vfs.ConsolePath, defs.O_WRONLY, console)
	t.slots[2] = NewOpenFile(vfs.ConsolePath, defs.O_WRONLY, console)
	return t
}

// FindAvailable scans from slot 3 upward for the first empty slot,
// returning -1 if the table is full (spec.md §4.5 "Slot allocation").
func (t *Table) FindAvailable() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 3; i < limits.OpenMax; i++ {
		if t.slots[i] == nil {
			return i
		}
	}
	return -1
}

// Validate returns the description at fd, or EBADF if fd is out of range
// or the slot is empty (spec.md §4.5 "Validation").
func (t *Table) Validate(fdn int) (*OpenFile, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fdn < 0 || fdn >= limits.OpenMax || t.slots[fdn] == nil {
		return nil, defs.EBADF
	}
	return t.slots[fdn], 0
}

// Install places of at fdn without further checks; used by Open once a
// slot has been reserved via FindAvailable.
func (t *Table) Install(fdn int, of *OpenFile) {
	t.mu.Lock()
	t.slots[fdn] = of
	t.mu.Unlock()
}

// Close releases fdn's description (decrementing its refcount, closing
// the node if this was the last reference) and empties the slot.
func (t *Table) Close(fdn int) defs.Err_t {
	t.mu.Lock()
	if fdn < 0 || fdn >= limits.OpenMax || t.slots[fdn] == nil {
		t.mu.Unlock()
		return defs.EBADF
	}
	of := t.slots[fdn]
	t.slots[fdn] = nil
	t.mu.Unlock()
	return of.Release()
}

// Dup2 makes newfd refer to the same description as oldfd, closing
// whatever newfd previously held first. oldfd == newfd is a no-op success
// (POSIX dup2 semantics); spec.md §8's round-trip law relies on the
// general case.
func (t *Table) Dup2(oldfd, newfd int) (int, defs.Err_t) {
	t.mu.Lock()
	if oldfd < 0 || oldfd >= limits.OpenMax || t.slots[oldfd] == nil {
		t.mu.Unlock()
		return 0, defs.EBADF
	}
	if newfd < 0 || newfd >= limits.OpenMax {
		t.mu.Unlock()
		return 0, defs.EBADF
	}
	if oldfd == newfd {
		t.mu.Unlock()
		return newfd, 0
	}
	old := t.slots[newfd]
	t.slots[oldfd].Dup()
	t.slots[newfd] = t.slots[oldfd]
	t.mu.Unlock()
	if old != nil {
		old.Release()
	}
	return newfd, 0
}

// ForkCopy returns a new table sharing every occupied slot's description
// with t, each sharing bumping the description's refcount (spec.md §4.6
// "Fork", §5 "Resource sharing across fork").
func (t *Table) ForkCopy() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := &Table{}
	for i, of := range t.slots {
		if of == nil {
			continue
		}
		of.Dup()
		child.slots[i] = of
	}
	return child
}

// Destroy releases every occupied slot, as happens implicitly when a
// process exits (spec.md §4.5 "lifecycle").
func (t *Table) Destroy() {
	t.mu.Lock()
	slots := t.slots
	t.slots = [limits.OpenMax]*OpenFile{}
	t.mu.Unlock()
	for _, of := range slots {
		if of != nil {
			of.Release()
		}
	}
}

// Occupied reports which slots currently hold a description, for tests
// asserting fork produced an identical occupancy set (spec.md §8).
func (t *Table) Occupied() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for i, of := range t.slots {
		if of != nil {
			out = append(out, i)
		}
	}
	return out
}

// Cwd tracks a process's current working directory: a reference-counted
// open-file description over the directory's VFS node, plus its canonical
// path, serialized against concurrent chdir (spec.md §3 "Process",
// grounded on biscuit's fd.Cwd_t).
type Cwd struct {
	mu   sync.Mutex
	Of   *OpenFile
	Path string
}

// NewRootCwd returns a Cwd rooted at "/".
func NewRootCwd(of *OpenFile) *Cwd {
	return &Cwd{Of: of, Path: "/"}
}

// Chdir replaces the cwd's description and path, releasing the previous
// description's reference.
func (c *Cwd) Chdir(of *OpenFile, path string) {
	c.mu.Lock()
	old := c.Of
	c.Of, c.Path = of, path
	c.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

// Fork returns a Cwd sharing this one's description, refcount bumped
// (spec.md §4.6 "Fork").
func (c *Cwd) Fork() *Cwd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Of.Dup()
	return &Cwd{Of: c.Of, Path: c.Path}
}
