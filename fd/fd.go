package fd

import "sync/atomic"

import "osprey/defs"
import "osprey/fdops"

// Fd_t is a shared-ownership handle to an I/O capability. fork shares
// handles between parent and child by bumping the count; the
// underlying Close runs only when the count reaches zero.
type Fd_t struct {
	Io     fdops.Io_i
	refcnt int32
}

func MkFd(io fdops.Io_i) *Fd_t {
	return &Fd_t{Io: io, refcnt: 1}
}

// Ref takes another reference; the fork path calls this for every
// live descriptor before the child becomes runnable.
func (f *Fd_t) Ref() {
	if atomic.AddInt32(&f.refcnt, 1) <= 1 {
		panic("ref of dead fd")
	}
}

func (f *Fd_t) Refcnt() int {
	return int(atomic.LoadInt32(&f.refcnt))
}

// Close drops a reference, closing the capability at zero.
func (f *Fd_t) Close() defs.Err_t {
	c := atomic.AddInt32(&f.refcnt, -1)
	if c < 0 {
		panic("fd over-closed")
	}
	if c == 0 {
		return f.Io.Close()
	}
	return 0
}

func ClosePanic(f *Fd_t) {
	if f.Close() != 0 {
		panic("must succeed")
	}
}
