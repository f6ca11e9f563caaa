package timer

import "osprey/intr"
import "osprey/riscv"
import "osprey/thread"

// SBI timer: a tick counter driven by S-mode timer interrupts and an
// alarm list serviced on each tick. The alarm is the kernel's only
// timeout primitive; usleep is built on it.

// qemu-virt CLINT frequency
const FREQ = 10_000_000

// ticks per scheduling quantum
const quantum = FREQ / 100

type Alarm_t struct {
	cond thread.Condition_t
	wake uintptr
	next *Alarm_t
}

var alarms *Alarm_t

func (al *Alarm_t) Init(name string) {
	al.cond.Init(name)
}

// Sleep blocks the calling thread for at least dt timer ticks.
func (al *Alarm_t) Sleep(dt uintptr) {
	was := intr.Disable()
	al.wake = riscv.CsrrTime() + dt
	al.next = alarms
	alarms = al
	intr.Restore(was)
	for riscv.CsrrTime() < al.wake {
		al.cond.Wait()
	}
}

// Usleep blocks for at least us microseconds.
func Usleep(us uintptr) {
	var al Alarm_t
	al.Init("usleep")
	al.Sleep(us * (FREQ / 1_000_000))
}

// Init programs the first tick and unmasks the timer interrupt.
func Init() {
	riscv.SbiSetTimer(riscv.CsrrTime() + quantum)
	riscv.CsrsSie(riscv.SIE_STIE)
}

// Tick runs from the timer interrupt: re-arm, wake due alarms, and
// let the caller preempt. Alarms that fire are unlinked; their owners
// re-check the deadline themselves.
func Tick() {
	now := riscv.CsrrTime()
	riscv.SbiSetTimer(now + quantum)

	var keep *Alarm_t
	for al := alarms; al != nil; {
		next := al.next
		if now >= al.wake {
			al.cond.Broadcast()
		} else {
			al.next = keep
			keep = al
		}
		al = next
	}
	alarms = keep
}
