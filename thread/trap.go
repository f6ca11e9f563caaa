package thread

import "osprey/intr"
import "osprey/riscv"

// Trap plumbing between the assembly vectors and the kernel's
// dispatchers. The kernel package installs the handlers at boot;
// keeping them as variables here avoids an import cycle, since the
// handlers reach back into vm, proc, and the drivers.

// UmodeHandler services every trap taken from U mode: syscall decode,
// page faults, interrupts. It runs on the faulting thread's kernel
// stack with the saved frame.
var UmodeHandler func(*riscv.Trapframe_t)

// SmodeHandler services interrupts taken while in S mode.
var SmodeHandler func(cause uintptr)

// utrapDispatch is the Go landing point of the U-mode trap vector.
//
//go:nosplit
func utrapDispatch(tfr *riscv.Trapframe_t) {
	t := Current()
	t.Tfr = tfr
	if UmodeHandler == nil {
		panic("no umode handler")
	}
	UmodeHandler(tfr)
}

// strapDispatch is the Go landing point of the S-mode trap vector.
//
//go:nosplit
func strapDispatch() {
	if SmodeHandler == nil {
		panic("no smode handler")
	}
	SmodeHandler(riscv.CsrrScause())
}

// threadRun is where a fresh thread's first swtch lands, via the
// assembly stub: it turns interrupts on, runs the entry function, and
// exits the thread when the entry returns.
func threadRun() {
	intr.Enable()
	t := Current()
	t.entry()
	Exit()
}

// JumpToUser enters user mode for the first time: user stack pointer,
// entry point, SPP clear and SPIE set so sret lands in U mode with
// interrupts enabled. Never returns.
func JumpToUser(usp, entry uintptr) {
	var tfr riscv.Trapframe_t
	tfr.X[riscv.TFR_SP] = usp
	tfr.Sepc = entry
	s := riscv.CsrrSstatus()
	s &^= riscv.SSTATUS_SPP
	s |= riscv.SSTATUS_SPIE
	tfr.Sstatus = s
	userRet(Current().stktop, &tfr)
	panic("returned from user jump")
}

// UserRet resumes user mode from a saved trap frame; the normal
// syscall return path and the tail of fork on the child side.
func UserRet(tfr *riscv.Trapframe_t) {
	userRet(Current().stktop, tfr)
	panic("returned from user return")
}
