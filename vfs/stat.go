package vfs

import "golang.org/x/sys/unix"

// StatInfo mirrors the subset of a POSIX stat structure the syscall edge's
// fstat/stat would need, shaped after biscuit's stat.Stat_t but built on
// golang.org/x/sys/unix's mode-bit constants rather than hand-rolled ones:
// these are exactly the bits a real host-facing stat call would report.
type StatInfo struct {
	Mode uint32
	Size int64
}

// File-type bits for the Mode field, taken directly from
// golang.org/x/sys/unix so they agree bit-for-bit with what a real POSIX
// stat(2) would set.
const (
	regularFileMode = uint32(unix.S_IFREG)
	charDeviceMode  = uint32(unix.S_IFCHR)
)
