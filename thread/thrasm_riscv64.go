//go:build riscv64

package thread

import "osprey/riscv"

// Context-switch and trap-return primitives, in thrasm_riscv64.s.

// Current returns the running thread; its pointer lives in the
// hardware thread pointer register.
func Current() *Thread_t

func setCurrent(t *Thread_t)

// Swtch saves the caller's callee-save registers into the current
// thread, loads next's, and rewrites the thread pointer. Returns on
// the original stack with the previously-running thread; interrupts
// are enabled on return.
func Swtch(next *Thread_t) *Thread_t

// stubAddr is the first-run entry a fresh thread's saved ra points
// at; the stub lands in threadRun with no synthetic stack frame.
func stubAddr() uintptr

// userRet installs the U-mode trap vector and the thread's stack
// anchor, loads sepc/sstatus and every general-purpose register from
// tfr, and issues sret. The thread pointer register stays kernel-owned
// across user mode. Never returns.
func userRet(stktop uintptr, tfr *riscv.Trapframe_t)

// SvecAddr is the S-mode trap vector, installed into stvec at boot.
func SvecAddr() uintptr
