package vfs

import (
	"sync"

	"mipskern/defs"
)

// MemFile is a plain in-memory file node, standing in for a regular VFS
// inode. A filesystem keyed by path (see FS below) hands out MemFile
// instances so open/write/close/open/read round trips (spec.md §8 "Round-
// trip laws") have somewhere real to land.
type MemFile struct {
	mu   sync.Mutex
	data []byte
}

// NewMemFile returns an empty file.
func NewMemFile() *MemFile { return &MemFile{} }

func (f *MemFile) ReadAt(p []byte, off int64) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= int64(len(f.data)) {
		return 0, 0
	}
	n := copy(p, f.data[off:])
	return n, 0
}

func (f *MemFile) WriteAt(p []byte, off int64) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), 0
}

func (f *MemFile) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data))
}

func (f *MemFile) Seekable() bool { return true }

func (f *MemFile) Stat() StatInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return StatInfo{Mode: regularFileMode, Size: int64(len(f.data))}
}

func (f *MemFile) Close() defs.Err_t { return 0 }

// FS is a flat, path-keyed collection of MemFile nodes: a stand-in for the
// directory-and-inode machinery a real VFS would provide, just sufficient
// to back Open/Chdir in the syscall edge's tests.
type FS struct {
	mu    sync.Mutex
	files map[string]*MemFile
}

// NewFS returns an empty filesystem.
func NewFS() *FS { return &FS{files: make(map[string]*MemFile)} }

// Open returns the node named by path, creating it if flags&defs.O_CREAT
// is set and it does not already exist; otherwise it reports ENOENT-
// equivalent via defs.EINVAL, since this core's errno set (spec.md §7) has
// no dedicated "no such file" code of its own and treats VFS lookup
// failure as a generic VFS error at the syscall edge.
func (fs *FS) Open(path string, flags int) (*MemFile, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[path]
	if !ok {
		if flags&defs.O_CREAT == 0 {
			return nil, defs.EINVAL
		}
		f = NewMemFile()
		fs.files[path] = f
	} else if flags&defs.O_TRUNC != 0 {
		f.mu.Lock()
		f.data = nil
		f.mu.Unlock()
	}
	return f, 0
}
