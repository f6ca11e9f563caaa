package proc

import "osprey/console"
import "osprey/riscv"
import "osprey/thread"
import "osprey/timer"
import "osprey/vm"

// Trap dispatch. Exceptions from U mode are handled or kill the
// faulting process; an exception from S mode is a kernel bug and
// halts the machine. Interrupts route to the timer and the external
// claim loop.

// ExtIntr services external interrupts; the kernel points it at the
// PLIC claim/complete loop.
var ExtIntr = func() {}

func umodeTrap(tfr *riscv.Trapframe_t) {
	cause := riscv.CsrrScause()
	if cause&riscv.CAUSE_INTR != 0 {
		intrDispatch(cause &^ riscv.CAUSE_INTR)
		return
	}
	switch cause {
	case riscv.CAUSE_ECALL_UMODE:
		// past the ecall instruction
		tfr.Sepc += 4
		sysDispatch(tfr)
	case riscv.CAUSE_LOAD_PGFAULT, riscv.CAUSE_STORE_PGFAULT:
		va := riscv.CsrrStval()
		if !vm.Kvm.HandlePageFault(va) {
			killProc(cause, va, tfr)
		}
	default:
		killProc(cause, riscv.CsrrStval(), tfr)
	}
}

// killProc ends the faulting process; the kernel survives.
func killProc(cause, va uintptr, tfr *riscv.Trapframe_t) {
	p := CurrentProc()
	console.Printf("%s at %#x (addr %#x): killing pid %d\n",
		riscv.ExcpName(cause), tfr.Sepc, va, p.Id)
	p.Exit()
}

func smodeTrap(cause uintptr) {
	if cause&riscv.CAUSE_INTR != 0 {
		intrDispatch(cause &^ riscv.CAUSE_INTR)
		return
	}
	console.Printf("%s at S mode\n", riscv.ExcpName(cause))
	panic("exception in kernel")
}

func intrDispatch(code uintptr) {
	switch code {
	case riscv.IRQ_S_TIMER:
		timer.Tick()
		thread.Yield()
	case riscv.IRQ_S_EXTN:
		ExtIntr()
	}
}
