// Package accnt tracks per-process CPU accounting. Adapted from biscuit's
// accnt/accnt.go; the original OS/161 proc struct family this kernel is
// ported from also carries user/system time, though spec.md's data model
// does not name it as an invariant.
package accnt

import (
	"sync/atomic"
	"time"
)

// Accnt tracks nanoseconds of user and system time consumed by one
// process. Both counters are updated via atomic add so a process's own
// threads (and whatever samples the counters for reporting) never need a
// lock.
type Accnt struct {
	Userns int64
	Sysns  int64
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta time.Duration) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Snap returns the (user, system) durations. Each counter is loaded
// atomically on its own; the pair is not read as one snapshot.
func (a *Accnt) Snap() (time.Duration, time.Duration) {
	return time.Duration(atomic.LoadInt64(&a.Userns)), time.Duration(atomic.LoadInt64(&a.Sysns))
}
