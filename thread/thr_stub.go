//go:build !riscv64

package thread

import "osprey/riscv"

// Hosted stand-ins. Queue and lock state machines run under go test;
// actual context switches and trap returns need the hardware.

var curhost *Thread_t

func Current() *Thread_t {
	if curhost == nil {
		curhost = &Thread_t{tid: 0, state: RUNNING, name: "host", parent: -1}
	}
	return curhost
}

func setCurrent(t *Thread_t) {
	curhost = t
}

func Swtch(next *Thread_t) *Thread_t {
	panic("no context switch on host")
}

func stubAddr() uintptr {
	return 0
}

func userRet(stktop uintptr, tfr *riscv.Trapframe_t) {
	panic("no user mode on host")
}

func SvecAddr() uintptr {
	return 0
}
