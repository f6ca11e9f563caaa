package proc

import "fmt"

import "osprey/defs"
import "osprey/fd"
import "osprey/fs"
import "osprey/intr"
import "osprey/mem"
import "osprey/riscv"
import "osprey/thread"
import "osprey/vm"

import kelf "osprey/elf"

const proc_debug = false

func dbg(x string, args ...interface{}) {
	if proc_debug {
		fmt.Printf(x, args...)
	}
}

const NPROC = 16
const mainPid defs.Pid_t = 0

// Proc_t pairs one kernel thread with one address space and a
// descriptor table.
type Proc_t struct {
	Id    defs.Pid_t
	Tid   defs.Tid_t
	Mtag  vm.Mtag_t
	Iotab [defs.NOFD]*fd.Fd_t
}

var proctab [NPROC]*Proc_t

// Kfs is the mounted file system the fsopen and exec syscalls
// resolve through; the kernel sets it after mounting.
var Kfs *fs.Fs_t

// CurrentProc returns the process of the running thread.
func CurrentProc() *Proc_t {
	p, _ := thread.Current().Proc.(*Proc_t)
	return p
}

func ByPid(pid defs.Pid_t) *Proc_t {
	if pid < 0 || int(pid) >= NPROC {
		return nil
	}
	return proctab[pid]
}

// Init installs pid 0 around the boot thread and takes over the trap
// handlers.
func Init(v *vm.Vm_t) *Proc_t {
	main := &Proc_t{
		Id:   mainPid,
		Tid:  thread.Current().Tid(),
		Mtag: v.ActiveMtag(),
	}
	thread.Current().Proc = main
	proctab[mainPid] = main

	thread.UmodeHandler = umodeTrap
	thread.SmodeHandler = smodeTrap
	return main
}

// Exec replaces the current user image with the executable behind
// exeio: unmap and free every user page, load, then enter user mode
// at the fresh entry point with interrupts enabled. Does not return
// on success.
func (p *Proc_t) Exec(exeio *fd.Fd_t) defs.Err_t {
	v := vm.Kvm
	v.UnmapFreeUser()

	entry, err := kelf.Load(exeio.Io, v)
	if err != 0 {
		return err
	}
	fd.ClosePanic(exeio)

	intr.Disable()
	thread.JumpToUser(mem.USER_STACK_VMA, entry)
	return 0
}

// Exit tears the process down: user pages freed, space reclaimed
// (kernel half stays; the thread rides the main space from here),
// every descriptor released, table slot cleared, thread terminated.
func (p *Proc_t) Exit() {
	v := vm.Kvm
	v.UnmapFreeUser()
	v.SpaceReclaim()
	for i := range p.Iotab {
		if p.Iotab[i] != nil {
			p.Iotab[i].Close()
			p.Iotab[i] = nil
		}
	}
	proctab[p.Id] = nil
	thread.Exit()
}

// Fork clones the current process: new table slot, cloned address
// space, descriptor table shared slot-for-slot with reference counts
// bumped before the child can run. The child continues from the
// parent's trap frame with a zero return value; the parent gets the
// child's thread id.
func (p *Proc_t) Fork(tfr *riscv.Trapframe_t) (defs.Tid_t, defs.Err_t) {
	newpid := defs.Pid_t(-1)
	for i := 0; i < NPROC; i++ {
		if proctab[i] == nil {
			newpid = defs.Pid_t(i)
			break
		}
	}
	if newpid < 0 {
		return 0, -defs.EBUSY
	}

	child := &Proc_t{Id: newpid}
	child.Mtag = vm.Kvm.SpaceClone(int(newpid))
	for i := range p.Iotab {
		if p.Iotab[i] != nil {
			child.Iotab[i] = p.Iotab[i]
			child.Iotab[i].Ref()
		}
	}
	proctab[newpid] = child

	// snapshot the parent's frame; the child observes a0 = 0
	ctfr := *tfr
	ctfr.X[riscv.TFR_A0] = 0

	tid, err := thread.Spawn(fmt.Sprintf("proc%d", newpid), func() {
		vm.Kvm.SpaceSwitch(child.Mtag)
		thread.UserRet(&ctfr)
	})
	if err != 0 {
		proctab[newpid] = nil
		for i := range child.Iotab {
			if child.Iotab[i] != nil {
				child.Iotab[i].Close()
			}
		}
		return 0, err
	}
	child.Tid = tid
	thread.ByTid(tid).Proc = child
	dbg("fork: pid %v tid %v\n", newpid, tid)
	return tid, 0
}
