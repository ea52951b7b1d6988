// Package vfs is the minimal external-collaborator surface the process
// core consumes from the real virtual filesystem (spec.md §1 names the VFS
// itself as an external collaborator; this package models just enough of
// it — a Node interface, an in-memory file, and a console device — to
// exercise open/close/read/write/lseek/dup2 round trips without a real
// disk-backed filesystem).
//
// Shaped after biscuit's fd.Fdops_i / fs.Fs_t split: a node is a seekable
// handle; the open-file description bookkeeping (offset, refcount, sharing
// across dup2/fork) lives one layer up, in package fd.
package vfs

import (
	"sync"

	"mipskern/defs"
)

// Node is the operations a fd-table entry needs from the filesystem it
// names. Grounded on biscuit's fdops.Fdops_i, trimmed to the subset this
// core's syscall edge actually calls: duplication (dup2, fork) shares one
// Node across multiple descriptions by refcount (fd.OpenFile.Dup), not by
// reopening, so Node carries no reopen-on-duplicate method the way
// biscuit's Fdops_i does.
type Node interface {
	ReadAt(p []byte, off int64) (int, defs.Err_t)
	WriteAt(p []byte, off int64) (int, defs.Err_t)
	Size() int64
	Seekable() bool
	Stat() StatInfo
	Close() defs.Err_t
}

// ConsolePath is the canonical VFS path bound to stdin/stdout/stderr at
// process startup (spec.md §4.5, §6 "Reserved FDs").
const ConsolePath = "con:"

// Console models "con:": reads always report EOF (0 bytes, no error), and
// writes are appended to an in-memory transcript a test can inspect —
// standing in for a real terminal driver.
type Console struct {
	mu         sync.Mutex
	transcript []byte
}

// NewConsole returns a fresh console with an empty transcript.
func NewConsole() *Console { return &Console{} }

func (c *Console) ReadAt(p []byte, off int64) (int, defs.Err_t) { return 0, 0 }

func (c *Console) WriteAt(p []byte, off int64) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, p...)
	return len(p), 0
}

func (c *Console) Size() int64 { return 0 }
func (c *Console) Seekable() bool { return false }

func (c *Console) Stat() StatInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatInfo{Mode: charDeviceMode, Size: 0}
}

func (c *Console) Close() defs.Err_t { return 0 }

// Transcript returns everything ever written to the console, for tests
// that redirect a child's stdout and inspect what it produced.
func (c *Console) Transcript() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.transcript))
	copy(out, c.transcript)
	return out
}
