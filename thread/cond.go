package thread

import "osprey/defs"
import "osprey/intr"

// Conditions are ordered FIFO lists of waiting threads; broadcast
// preserves arrival order when it readies them. Waits are
// uninterruptible.

type Condition_t struct {
	name string
	head *Thread_t
	tail *Thread_t
}

func (c *Condition_t) Init(name string) {
	c.name = name
	c.head = nil
	c.tail = nil
}

// Wait parks the running thread at the tail of c and switches away.
// Returns with interrupts enabled, after a broadcast readied us and
// the scheduler ran us again.
func (c *Condition_t) Wait() {
	intr.Disable()
	c.waitLocked()
	intr.Enable()
}

// waitLocked requires interrupts disabled and returns with them
// disabled again, so state re-checks in the caller's loop stay atomic.
func (c *Condition_t) waitLocked() {
	t := Current()
	t.state = WAITING
	t.next = nil
	if c.tail == nil {
		c.head = t
		c.tail = t
	} else {
		c.tail.next = t
		c.tail = t
	}
	schedule()
	intr.Disable()
}

// Broadcast readies every waiter, in the order they arrived.
func (c *Condition_t) Broadcast() {
	was := intr.Disable()
	c.broadcastLocked()
	intr.Restore(was)
}

func (c *Condition_t) broadcastLocked() {
	for c.head != nil {
		t := c.head
		c.head = t.next
		readyPush(t)
	}
	c.tail = nil
}

// Lock_t is a sleep lock: a condition plus the holding thread's id.
// Not reentrant; releasing a lock held by another thread is fatal.
type Lock_t struct {
	cond Condition_t
	tid  defs.Tid_t
}

func (lk *Lock_t) Init(name string) {
	lk.cond.Init(name)
	lk.tid = -1
}

// Acquire spins over test-and-claim under disabled interrupts, waiting
// on the lock's condition while it is held. The disable window covers
// both the test and the claim.
func (lk *Lock_t) Acquire() {
	for {
		was := intr.Disable()
		if lk.tid == -1 {
			lk.tid = Current().tid
			intr.Restore(was)
			dbg("thread <%s:%d> acquired %s\n", Current().name, Current().tid, lk.cond.name)
			return
		}
		intr.Restore(was)
		lk.cond.Wait()
	}
}

func (lk *Lock_t) Release() {
	if lk.tid != Current().tid {
		panic("release of lock not held")
	}
	was := intr.Disable()
	lk.tid = -1
	lk.cond.broadcastLocked()
	intr.Restore(was)
}

// Holder returns the owning tid or -1.
func (lk *Lock_t) Holder() defs.Tid_t {
	return lk.tid
}
