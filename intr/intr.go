package intr

import "osprey/riscv"

// Interrupt control and ISR dispatch for external interrupts. The
// free-page list and the scheduler run under Disable/Restore windows;
// device drivers register ISRs here and the trap entry routes PLIC
// claims through Dispatch.

const NIRQ = 64

type isr_t struct {
	fn   func(irqno int, aux interface{})
	aux  interface{}
	prio int
}

var isrs [NIRQ]isr_t

// Disable clears sstatus.SIE and returns the previous state for
// Restore.
func Disable() bool {
	old := riscv.CsrrSstatus()&riscv.SSTATUS_SIE != 0
	riscv.CsrcSstatus(riscv.SSTATUS_SIE)
	return old
}

func Restore(was bool) {
	if was {
		riscv.CsrsSstatus(riscv.SSTATUS_SIE)
	}
}

func Enable() {
	riscv.CsrsSstatus(riscv.SSTATUS_SIE)
}

// RegisterISR attaches fn to irqno. The priority is programmed into
// the PLIC when the line is enabled.
func RegisterISR(irqno, prio int, fn func(int, interface{}), aux interface{}) {
	if irqno <= 0 || irqno >= NIRQ {
		panic("bad irq")
	}
	if isrs[irqno].fn != nil {
		panic("irq in use")
	}
	isrs[irqno] = isr_t{fn: fn, aux: aux, prio: prio}
}

func Prio(irqno int) int {
	return isrs[irqno].prio
}

// Dispatch runs the ISR for a claimed interrupt. Unhandled lines are
// ignored; a device that raises them stays unacknowledged and loud.
func Dispatch(irqno int) {
	if irqno > 0 && irqno < NIRQ && isrs[irqno].fn != nil {
		isrs[irqno].fn(irqno, isrs[irqno].aux)
	}
}

// EnableIRQ unmasks a source at the interrupt controller. The kernel
// points this at the PLIC at boot; hosted harnesses leave it inert.
var EnableIRQ = func(irqno, prio int) {}
