package thread

import "fmt"
import "unsafe"

import "osprey/defs"
import "osprey/intr"
import "osprey/mem"
import "osprey/riscv"

const thread_debug = false

func dbg(x string, args ...interface{}) {
	if thread_debug {
		fmt.Printf(x, args...)
	}
}

const NTHR = 32
const stackSize = 16 << 10

type state_t int

const (
	FREE state_t = iota
	RUNNING
	READY
	WAITING
	EXITED
)

// Saved callee-save state; swtch stores through the thread pointer, so
// this must stay the first field of Thread_t.
type Ctx_t struct {
	Ra uintptr
	Sp uintptr
	S  [12]uintptr
}

type Thread_t struct {
	ctx    Ctx_t
	tid    defs.Tid_t
	state  state_t
	name   string
	parent defs.Tid_t

	// kernel stack block from the heap; stktop is the anchor loaded
	// into sscratch while the thread runs in U mode
	stack  mem.Pa_t
	stktop uintptr

	entry func()

	// back-reference to the owning process, set by the process layer
	Proc interface{}

	// saved U-mode trap frame, valid while in a syscall
	Tfr *riscv.Trapframe_t

	// linkage into the ready queue or at most one waiter list
	next *Thread_t

	// broadcast when this thread exits; Join blocks here
	exitCond Condition_t
	// broadcast at the parent when any child exits; JoinAny blocks here
	childExit Condition_t
}

func (t *Thread_t) Tid() defs.Tid_t { return t.tid }
func (t *Thread_t) Name() string    { return t.name }

var threads [NTHR]*Thread_t
var readyHead *Thread_t
var readyTail *Thread_t
var idleThread *Thread_t

// Init adopts the boot context as thread 0 and sets up the idle
// thread. Must run before any spawn. Thread 0 keeps running on the
// boot stack, but gets its own trap stack: the anchor in sscratch
// must point at memory that outlives the boot phase.
func Init() {
	t0 := &Thread_t{tid: 0, state: RUNNING, name: "main", parent: -1}
	t0.exitCond.name = "texit:0"
	t0.childExit.name = "child:0"
	t0.stack, t0.stktop = mkStack()
	threads[0] = t0
	setCurrent(t0)

	idleThread = mkThread("idle", -1, func() {
		for {
			riscv.Wfi()
			yieldIfReady()
		}
	})
}

func mkStack() (mem.Pa_t, uintptr) {
	blk := mem.Kheap.Alloc(stackSize)
	if blk == 0 {
		panic("no stack memory")
	}
	b := mem.Kheap.Bytes(blk, stackSize)
	top := uintptr(unsafe.Pointer(&b[0])) + stackSize
	return blk, top &^ 15
}

func mkThread(name string, parent defs.Tid_t, entry func()) *Thread_t {
	t := &Thread_t{
		name:   name,
		parent: parent,
		state:  READY,
		entry:  entry,
	}
	t.stack, t.stktop = mkStack()
	// headroom above the first-run sp: swtch writes its return value
	// into the resumed frame's argument area
	t.ctx.Sp = t.stktop - 32
	t.ctx.Ra = stubAddr()
	return t
}

// Spawn creates a thread running entry and makes it ready. The
// current thread becomes its parent.
func Spawn(name string, entry func()) (defs.Tid_t, defs.Err_t) {
	was := intr.Disable()
	defer intr.Restore(was)

	slot := -1
	for i := 1; i < NTHR; i++ {
		if threads[i] == nil || threads[i].state == FREE {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, -defs.EMFILE
	}
	t := mkThread(name, Current().tid, entry)
	t.tid = defs.Tid_t(slot)
	t.exitCond.name = fmt.Sprintf("texit:%d", slot)
	t.childExit.name = fmt.Sprintf("child:%d", slot)
	threads[slot] = t
	readyPush(t)
	return t.tid, 0
}

func ByTid(tid defs.Tid_t) *Thread_t {
	if tid < 0 || int(tid) >= NTHR {
		return nil
	}
	return threads[tid]
}

func readyPush(t *Thread_t) {
	t.state = READY
	t.next = nil
	if readyTail == nil {
		readyHead = t
		readyTail = t
	} else {
		readyTail.next = t
		readyTail = t
	}
}

func readyPop() *Thread_t {
	t := readyHead
	if t == nil {
		return nil
	}
	readyHead = t.next
	if readyHead == nil {
		readyTail = nil
	}
	t.next = nil
	return t
}

// schedule picks the next runnable thread and switches to it. The
// current thread must already be parked on a queue (or exited).
// Interrupts must be disabled; swtch returns with them enabled.
func schedule() {
	next := readyPop()
	if next == nil {
		next = idleThread
	}
	next.state = RUNNING
	Swtch(next)
}

// Yield moves the running thread to the ready queue tail and runs the
// head; the preemption path from the timer interrupt.
func Yield() {
	was := intr.Disable()
	t := Current()
	if t != idleThread {
		readyPush(t)
	}
	schedule()
	intr.Restore(was)
}

func yieldIfReady() {
	was := intr.Disable()
	if readyHead != nil {
		schedule()
	}
	intr.Restore(was)
}

// Exit terminates the current thread: state to EXITED, wake joiners
// and the parent, never returns.
func Exit() {
	intr.Disable()
	t := Current()
	t.state = EXITED
	t.exitCond.broadcastLocked()
	if p := ByTid(t.parent); p != nil {
		p.childExit.broadcastLocked()
	}
	schedule()
	panic("exited thread ran")
}

// reap releases an exited thread's slot and stack.
func reap(t *Thread_t) {
	if t.state != EXITED {
		panic("reaping live thread")
	}
	mem.Kheap.Free(t.stack)
	t.state = FREE
	threads[t.tid] = nil
}

// Join blocks until tid exits, then reaps it.
func Join(tid defs.Tid_t) defs.Err_t {
	t := ByTid(tid)
	if t == nil || t == Current() {
		return -defs.EINVAL
	}
	was := intr.Disable()
	for t.state != EXITED {
		t.exitCond.waitLocked()
	}
	reap(t)
	intr.Restore(was)
	return 0
}

// JoinAny blocks until any child of the current thread exits and
// returns its tid.
func JoinAny() (defs.Tid_t, defs.Err_t) {
	self := Current()
	was := intr.Disable()
	defer intr.Restore(was)
	for {
		nchild := 0
		for i := 1; i < NTHR; i++ {
			t := threads[i]
			if t == nil || t.parent != self.tid {
				continue
			}
			nchild++
			if t.state == EXITED {
				reap(t)
				return t.tid, 0
			}
		}
		if nchild == 0 {
			return 0, -defs.EINVAL
		}
		self.childExit.waitLocked()
	}
}
