package main

import "osprey/console"
import "osprey/device"
import "osprey/fd"
import "osprey/fs"
import "osprey/intr"
import "osprey/mem"
import "osprey/plic"
import "osprey/proc"
import "osprey/riscv"
import "osprey/thread"
import "osprey/timer"
import "osprey/vioblk"
import "osprey/vm"

// qemu-virt virtio-mmio window: 8 slots of 4 KiB starting at
// 0x10001000, IRQs 1..8.
const virtioBase uintptr = 0x1000_1000
const virtioSlots = 8
const virtioIrq0 = 1

func main() {
	console.Kterm = console.MkTerm(&uart_t{base: uart0})
	console.Printf("osprey booting\n")

	kimg := vm.Kimage_t{
		TextStart:   mem.Pa_t(kimgTextStart()),
		TextEnd:     mem.Pa_t(kimgTextEnd()),
		RodataStart: mem.Pa_t(kimgRodataStart()),
		RodataEnd:   mem.Pa_t(kimgRodataEnd()),
		DataStart:   mem.Pa_t(kimgDataStart()),
		End:         mem.Pa_t(kimgEnd()),
	}
	v := vm.Init(&mem.Identphys_t{}, kimg)
	console.Printf("paging on, %v pages free\n", v.Pool.Nfree())

	thread.Init()

	// interrupt plumbing: S-mode vector, PLIC, external claim loop
	riscv.CsrwStvec(thread.SvecAddr())
	plic.Init()
	intr.EnableIRQ = plic.EnableIRQ
	proc.ExtIntr = func() {
		for {
			irq := plic.Claim()
			if irq == 0 {
				break
			}
			intr.Dispatch(irq)
			plic.Complete(irq)
		}
	}
	riscv.CsrsSie(riscv.SIE_SEIE)
	timer.Init()

	// scan the virtio windows for block devices
	for i := 0; i < virtioSlots; i++ {
		mmio := &vioblk.Hwmmio_t{Base: virtioBase + uintptr(i)*0x1000}
		if mmio.Read32(vioblk.MMIO_MAGIC_VALUE) != vioblk.MAGIC {
			continue
		}
		if mmio.Read32(vioblk.MMIO_DEVICE_ID) != vioblk.ID_BLOCK {
			continue
		}
		vioblk.Attach(mmio, virtioIrq0+i, v.Phys, mem.Kheap)
	}

	p := proc.Init(v)

	blkio, err := device.Open("blk", 0)
	if err != 0 {
		panic("no block device")
	}
	fsys, err := fs.Mount(blkio)
	if err != 0 {
		panic("mount failed")
	}
	proc.Kfs = fsys

	intr.Enable()

	if selftest {
		runSelftests(fsys)
	}

	initio, err := fsys.Open("init")
	if err != 0 {
		panic("no init program")
	}
	p.Mtag = v.SpaceCreate(int(p.Id))
	v.SpaceSwitch(p.Mtag)
	console.Printf("running init\n")
	if err := p.Exec(fd.MkFd(initio)); err != 0 {
		panic("exec of init failed")
	}
}
