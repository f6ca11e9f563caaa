package proc

import "osprey/console"
import "osprey/defs"
import "osprey/device"
import "osprey/fd"
import "osprey/mem"
import "osprey/riscv"
import "osprey/thread"
import "osprey/timer"
import "osprey/vm"

// Syscall surface. Number in a7, arguments in a0..a2, result in a0;
// errors are the small negative values from defs. Every user pointer
// goes through the vm validation paths before the kernel touches it.

func sysDispatch(tfr *riscv.Trapframe_t) {
	num := tfr.X[riscv.TFR_A7]
	a0 := tfr.X[riscv.TFR_A0]
	a1 := tfr.X[riscv.TFR_A1]
	a2 := tfr.X[riscv.TFR_A2]

	var ret int64
	switch num {
	case defs.SYS_EXIT:
		sysExit()
	case defs.SYS_MSGOUT:
		ret = int64(sysMsgout(a0))
	case defs.SYS_DEVOPEN:
		ret = int64(sysDevopen(int(int64(a0)), a1, int(int64(a2))))
	case defs.SYS_FSOPEN:
		ret = int64(sysFsopen(int(int64(a0)), a1))
	case defs.SYS_CLOSE:
		ret = int64(sysClose(int(int64(a0))))
	case defs.SYS_READ:
		ret = sysRead(int(int64(a0)), a1, int(a2))
	case defs.SYS_WRITE:
		ret = sysWrite(int(int64(a0)), a1, int(a2))
	case defs.SYS_IOCTL:
		ret = int64(sysIoctl(int(int64(a0)), int(int64(a1)), a2))
	case defs.SYS_EXEC:
		ret = int64(sysExec(int(int64(a0))))
	case defs.SYS_FORK:
		ret = int64(sysFork(tfr))
	case defs.SYS_WAIT:
		ret = int64(sysWait(defs.Tid_t(int64(a0))))
	case defs.SYS_USLEEP:
		timer.Usleep(a0)
		ret = 0
	case defs.SYS_PIOREF:
		ret = int64(sysPioref())
	default:
		dbg("syscall: unknown number %v\n", num)
		ret = int64(-defs.ENOTSUP)
	}
	tfr.X[riscv.TFR_A0] = uintptr(ret)
}

func sysExit() {
	CurrentProc().Exit()
	panic("exit returned")
}

func sysMsgout(sva uintptr) defs.Err_t {
	v := vm.Kvm
	if err := v.ValidateVstr(sva, vm.PTE_R|vm.PTE_U); err != 0 {
		return err
	}
	msg, err := v.Userstr(sva, 1024, vm.PTE_U)
	if err != 0 {
		return err
	}
	t := thread.Current()
	console.Printf("Thread <%s:%d> says: %s\n", t.Name(), t.Tid(), msg)
	return 0
}

// iotabInsert places io at the requested descriptor, or the lowest
// free one when fdn is negative. The caller owns io on failure.
func iotabInsert(p *Proc_t, fdn int, f *fd.Fd_t) (int, defs.Err_t) {
	if fdn >= 0 {
		if fdn >= defs.NOFD {
			return 0, -defs.EMFILE
		}
		if p.Iotab[fdn] != nil {
			return 0, -defs.EBADFD
		}
		p.Iotab[fdn] = f
		return fdn, 0
	}
	for i := 0; i < defs.NOFD; i++ {
		if p.Iotab[i] == nil {
			p.Iotab[i] = f
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

func sysDevopen(fdn int, nameva uintptr, instno int) int {
	v := vm.Kvm
	name, err := v.Userstr(nameva, fs_NAMEMAX, vm.PTE_U)
	if err != 0 {
		return int(err)
	}
	io, err := device.Open(name, instno)
	if err != 0 {
		return int(err)
	}
	f := fd.MkFd(io)
	n, err := iotabInsert(CurrentProc(), fdn, f)
	if err != 0 {
		f.Close()
		return int(err)
	}
	return n
}

func sysFsopen(fdn int, nameva uintptr) int {
	v := vm.Kvm
	name, err := v.Userstr(nameva, fs_NAMEMAX, vm.PTE_U)
	if err != 0 {
		return int(err)
	}
	if Kfs == nil {
		return int(-defs.ENOENT)
	}
	io, err := Kfs.Open(name)
	if err != 0 {
		return int(err)
	}
	f := fd.MkFd(io)
	n, err := iotabInsert(CurrentProc(), fdn, f)
	if err != 0 {
		f.Close()
		return int(err)
	}
	return n
}

const fs_NAMEMAX = 64

func fdLookup(fdn int) (*fd.Fd_t, defs.Err_t) {
	p := CurrentProc()
	if fdn < 0 || fdn >= defs.NOFD || p.Iotab[fdn] == nil {
		return nil, -defs.EBADFD
	}
	return p.Iotab[fdn], 0
}

func sysClose(fdn int) defs.Err_t {
	f, err := fdLookup(fdn)
	if err != 0 {
		return err
	}
	f.Close()
	CurrentProc().Iotab[fdn] = nil
	return 0
}

func sysRead(fdn int, bufva uintptr, n int) int64 {
	f, err := fdLookup(fdn)
	if err != 0 {
		return int64(err)
	}
	if n < 0 {
		return int64(-defs.EINVAL)
	}
	v := vm.Kvm
	if err := v.ValidateVptrLen(bufva, n, vm.PTE_W|vm.PTE_U); err != 0 {
		return int64(err)
	}
	chunk := make([]uint8, mem.PGSIZE)
	var acc int64
	for acc < int64(n) {
		take := int64(len(chunk))
		if take > int64(n)-acc {
			take = int64(n) - acc
		}
		cnt, err := f.Io.Read(chunk[:take])
		if err != 0 {
			return int64(err)
		}
		if cnt == 0 {
			break
		}
		if err := v.Copyout(bufva+uintptr(acc), chunk[:cnt], vm.PTE_U); err != 0 {
			return int64(err)
		}
		acc += int64(cnt)
		if int64(cnt) < take {
			break
		}
	}
	return acc
}

func sysWrite(fdn int, bufva uintptr, n int) int64 {
	f, err := fdLookup(fdn)
	if err != 0 {
		return int64(err)
	}
	if n < 0 {
		return int64(-defs.EINVAL)
	}
	v := vm.Kvm
	if err := v.ValidateVptrLen(bufva, n, vm.PTE_R|vm.PTE_U); err != 0 {
		return int64(err)
	}
	chunk := make([]uint8, mem.PGSIZE)
	var acc int64
	for acc < int64(n) {
		take := int64(len(chunk))
		if take > int64(n)-acc {
			take = int64(n) - acc
		}
		if err := v.Copyin(chunk[:take], bufva+uintptr(acc), vm.PTE_U); err != 0 {
			return int64(err)
		}
		cnt, err := f.Io.Write(chunk[:take])
		if err != 0 {
			return int64(err)
		}
		acc += int64(cnt)
		if int64(cnt) < take {
			break
		}
	}
	return acc
}

func sysIoctl(fdn int, cmd int, argva uintptr) defs.Err_t {
	f, err := fdLookup(fdn)
	if err != 0 {
		return err
	}
	v := vm.Kvm
	var arg uint64
	ab := make([]uint8, 8)
	if err := v.Copyin(ab, argva, vm.PTE_U); err != 0 {
		return err
	}
	arg = le64(ab)
	if err := f.Io.Ioctl(cmd, &arg); err != 0 {
		return err
	}
	putle64(ab, arg)
	if err := v.Copyout(argva, ab, vm.PTE_U); err != 0 {
		return err
	}
	return 0
}

func le64(b []uint8) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putle64(b []uint8, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = uint8(v >> (8 * uint(i)))
	}
}

func sysExec(fdn int) defs.Err_t {
	p := CurrentProc()
	f, err := fdLookup(fdn)
	if err != 0 {
		return err
	}
	// the descriptor is consumed whether or not the load succeeds
	p.Iotab[fdn] = nil
	err = p.Exec(f)
	f.Close()
	return err
}

func sysFork(tfr *riscv.Trapframe_t) int {
	tid, err := CurrentProc().Fork(tfr)
	if err != 0 {
		return int(err)
	}
	return int(tid)
}

func sysWait(tid defs.Tid_t) int {
	if tid == 0 {
		ctid, err := thread.JoinAny()
		if err != 0 {
			return int(err)
		}
		return int(ctid)
	}
	if err := thread.Join(tid); err != 0 {
		return int(err)
	}
	return int(tid)
}

func sysPioref() defs.Err_t {
	p := CurrentProc()
	t := thread.Current()
	for i := range p.Iotab {
		if p.Iotab[i] != nil {
			console.Printf("Thread <%s:%d> says: refcnt = %d\n",
				t.Name(), t.Tid(), p.Iotab[i].Refcnt())
		}
	}
	return 0
}
