package proc

import (
	"time"

	"mipskern/defs"
	"mipskern/fd"
	"mipskern/vfs"
)

// Getpid returns the caller's own PID.
func (p *Process) Getpid() int { return p.Pid }

// Times reports the process's accumulated user and system CPU time
// (spec.md's data model is silent on accounting, but does not forbid it;
// mirrors biscuit's Accnt.Snap at the syscall edge).
func (p *Process) Times() (user, sys time.Duration) {
	return p.Atime.Snap()
}

// syscallTiming charges delta nanoseconds of syscall-handling work to the
// caller's system-time counter. Every syscall below runs entirely in
// kernel context, so its whole duration counts as system time.
func (p *Process) syscallTiming() func() {
	start := time.Now()
	return func() { p.Atime.Systadd(time.Since(start)) }
}

// Sbrk implements the sbrk syscall by delegating to the process's address
// space (spec.md §4.4, §6).
func (p *Process) Sbrk(delta int) (uintptr, defs.Err_t) {
	defer p.syscallTiming()()
	return p.AddrSpace().Sbrk(delta)
}

// Open implements the open syscall against fs, installing a new
// description at the first available FD slot (spec.md §4.5, §6). flags
// carries both the access mode (defs.O_RDONLY/O_WRONLY/O_RDWR) and any
// defs.O_CREAT/O_TRUNC bits for the VFS lookup.
func (p *Process) Open(fs *vfs.FS, path string, flags int) (int, defs.Err_t) {
	defer p.syscallTiming()()
	slot := p.Fds.FindAvailable()
	if slot < 0 {
		return 0, defs.EMFILE
	}
	node, err := fs.Open(path, flags)
	if err != 0 {
		return 0, err
	}
	p.Fds.Install(slot, fd.NewOpenFile(path, flags&defs.O_ACCMODE, node))
	return slot, 0
}

// Close implements the close syscall.
func (p *Process) Close(fdn int) defs.Err_t {
	defer p.syscallTiming()()
	return p.Fds.Close(fdn)
}

// Read implements the read syscall.
func (p *Process) Read(fdn int, buf []byte) (int, defs.Err_t) {
	defer p.syscallTiming()()
	of, err := p.Fds.Validate(fdn)
	if err != 0 {
		return 0, err
	}
	return of.Read(buf)
}

// Write implements the write syscall.
func (p *Process) Write(fdn int, buf []byte) (int, defs.Err_t) {
	defer p.syscallTiming()()
	of, err := p.Fds.Validate(fdn)
	if err != 0 {
		return 0, err
	}
	return of.Write(buf)
}

// Dup2 implements the dup2 syscall.
func (p *Process) Dup2(oldfd, newfd int) (int, defs.Err_t) {
	defer p.syscallTiming()()
	return p.Fds.Dup2(oldfd, newfd)
}

// Lseek implements the lseek syscall.
func (p *Process) Lseek(fdn int, pos int64, whence int) (int64, defs.Err_t) {
	defer p.syscallTiming()()
	of, err := p.Fds.Validate(fdn)
	if err != 0 {
		return 0, err
	}
	return of.Seek(pos, whence)
}

// Chdir implements the chdir syscall against fs.
func (p *Process) Chdir(fs *vfs.FS, path string) defs.Err_t {
	defer p.syscallTiming()()
	node, err := fs.Open(path, 0)
	if err != 0 {
		return err
	}
	p.Cwd().Chdir(fd.NewOpenFile(path, defs.O_RDONLY, node), path)
	return 0
}

// Getcwd implements __getcwd.
func (p *Process) Getcwd() string {
	return p.Cwd().Path
}

