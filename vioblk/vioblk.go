package vioblk

import "encoding/binary"
import "fmt"

import "osprey/defs"
import "osprey/device"
import "osprey/fdops"
import "osprey/intr"
import "osprey/mem"
import "osprey/riscv"
import "osprey/thread"

const vioblk_debug = false

func dbg(x string, args ...interface{}) {
	if vioblk_debug {
		fmt.Printf(x, args...)
	}
}

const queueSz = 1
const queueId = 0

// Vioblk_t drives one virtio block device with a single request in
// flight. The queue holds four descriptors: an indirect head whose
// table chains header, data, and status. The DMA area comes from the
// kernel heap, so it is physically contiguous.
//
// Layout of the DMA block:
//
//	[0x00) desc[4]         64 bytes
//	[0x40) avail           8 bytes  {flags, idx, ring[1], used_event}
//	[0x50) used            12 bytes {flags, idx, ring[1]{id,len}}
//	[0x60) request header  16 bytes {type, reserved, sector}
//	[0x70) status byte     1 byte
//	[0x80) block buffer    blksz bytes
type Vioblk_t struct {
	mmio  Mmio_i
	phys  mem.Phys_i
	heap  *mem.Heap_t
	irqno int

	opened   bool
	readonly bool

	blksz  int
	pos    uint64
	size   uint64
	blkcnt uint64

	lk          thread.Lock_t
	usedUpdated thread.Condition_t
	usedSeen    uint16

	dma     mem.Pa_t
	dmasz   int
	descPa  mem.Pa_t
	availPa mem.Pa_t
	usedPa  mem.Pa_t
	hdrPa   mem.Pa_t
	statPa  mem.Pa_t
	bufPa   mem.Pa_t
}

const (
	offDesc  = 0x00
	offAvail = 0x40
	offUsed  = 0x50
	offHdr   = 0x60
	offStat  = 0x70
	offBuf   = 0x80
)

// Attach brings up the device per the initialization sequence: reset,
// ACKNOWLEDGE, DRIVER, feature negotiation, queue programming,
// DRIVER_OK. Registers the ISR and the "blk" device entry.
func Attach(mmio Mmio_i, irqno int, phys mem.Phys_i, heap *mem.Heap_t) *Vioblk_t {
	if mmio.Read32(MMIO_MAGIC_VALUE) != MAGIC || mmio.Read32(MMIO_DEVICE_ID) != ID_BLOCK {
		panic("not a virtio block device")
	}

	mmio.Write32(MMIO_STATUS, 0)
	mmio.Write32(MMIO_STATUS, mmio.Read32(MMIO_STATUS)|STAT_ACKNOWLEDGE)
	mmio.Write32(MMIO_STATUS, mmio.Read32(MMIO_STATUS)|STAT_DRIVER)
	riscv.Fence()

	needed := featbit(VIRTIO_F_RING_RESET) | featbit(VIRTIO_F_INDIRECT)
	wanted := featbit(VIRTIO_BLK_F_BLK_SIZE) | featbit(VIRTIO_BLK_F_TOPOLOGY)
	enabled, ok := negotiate(mmio, needed, wanted)
	if !ok {
		mmio.Write32(MMIO_STATUS, mmio.Read32(MMIO_STATUS)|STAT_FAILED)
		fmt.Printf("vioblk: feature negotiation failed\n")
		return nil
	}

	blksz := 512
	if enabled&featbit(VIRTIO_BLK_F_BLK_SIZE) != 0 {
		blksz = int(mmio.Read32(MMIO_CONFIG + CFG_BLK_SIZE))
	}

	dev := &Vioblk_t{
		mmio:  mmio,
		phys:  phys,
		heap:  heap,
		irqno: irqno,
		blksz: blksz,
	}
	dev.lk.Init("vioblk")
	dev.usedUpdated.Init("used updated")

	capacity := read64(mmio, MMIO_CONFIG+CFG_CAPACITY) // 512-byte sectors
	dev.size = capacity * 512
	dev.blkcnt = dev.size / uint64(dev.blksz)

	dev.dmasz = offBuf + blksz
	dev.dma = heap.Alloc(dev.dmasz)
	if dev.dma == 0 {
		panic("vioblk: no dma memory")
	}
	dev.descPa = dev.dma + offDesc
	dev.availPa = dev.dma + offAvail
	dev.usedPa = dev.dma + offUsed
	dev.hdrPa = dev.dma + offHdr
	dev.statPa = dev.dma + offStat
	dev.bufPa = dev.dma + offBuf

	// descriptor 0 is the indirect head used in the rings; its table
	// is descriptors 1..3: header, data, status
	dev.wrdesc(0, uint64(dev.descPa+1*descSize), 3*descSize, VIRTQ_DESC_F_INDIRECT, 0)
	dev.wrdesc(1, uint64(dev.hdrPa), reqHdrSize, VIRTQ_DESC_F_NEXT, 1)
	dev.wrdesc(2, uint64(dev.bufPa), uint32(blksz), VIRTQ_DESC_F_NEXT, 2)
	dev.wrdesc(3, uint64(dev.statPa), 1, VIRTQ_DESC_F_WRITE, 0)

	// program queue 0
	mmio.Write32(MMIO_QUEUE_SEL, queueId)
	if mmio.Read32(MMIO_QUEUE_NUM_MAX) < queueSz {
		panic("vioblk: queue too small")
	}
	mmio.Write32(MMIO_QUEUE_NUM, queueSz)
	mmio.Write32(MMIO_QUEUE_DESC_LOW, uint32(dev.descPa))
	mmio.Write32(MMIO_QUEUE_DESC_HIGH, uint32(uint64(dev.descPa)>>32))
	mmio.Write32(MMIO_QUEUE_AVAIL_LOW, uint32(dev.availPa))
	mmio.Write32(MMIO_QUEUE_AVAIL_HIGH, uint32(uint64(dev.availPa)>>32))
	mmio.Write32(MMIO_QUEUE_USED_LOW, uint32(dev.usedPa))
	mmio.Write32(MMIO_QUEUE_USED_HIGH, uint32(uint64(dev.usedPa)>>32))

	intr.RegisterISR(irqno, 1, isr, dev)
	device.Register("blk", open, dev)

	mmio.Write32(MMIO_STATUS, mmio.Read32(MMIO_STATUS)|STAT_DRIVER_OK)
	riscv.Fence()

	fmt.Printf("vioblk: %v bytes, block size %v\n", dev.size, dev.blksz)
	return dev
}

func (dev *Vioblk_t) wrdesc(i int, addr uint64, dlen uint32, flags uint16, next uint16) {
	b := dev.phys.Dmaplen(dev.descPa+mem.Pa_t(i*descSize), descSize)
	binary.LittleEndian.PutUint64(b[0:], addr)
	binary.LittleEndian.PutUint32(b[8:], dlen)
	binary.LittleEndian.PutUint16(b[12:], flags)
	binary.LittleEndian.PutUint16(b[14:], next)
}

func (dev *Vioblk_t) avail() []uint8 {
	return dev.phys.Dmaplen(dev.availPa, 8)
}

func (dev *Vioblk_t) usedIdx() uint16 {
	b := dev.phys.Dmaplen(dev.usedPa, 12)
	return binary.LittleEndian.Uint16(b[2:])
}

// open enables the queue and the interrupt line; one opener at a
// time.
func open(aux interface{}) (fdops.Io_i, defs.Err_t) {
	dev := aux.(*Vioblk_t)
	if dev.opened {
		return nil, -defs.EBUSY
	}
	dev.mmio.Write32(MMIO_QUEUE_SEL, queueId)
	dev.mmio.Write32(MMIO_QUEUE_READY, 1)
	intr.EnableIRQ(dev.irqno, intr.Prio(dev.irqno))
	dev.opened = true
	dev.pos = 0
	return dev, 0
}

// Close resets the queue. Must run with interrupts enabled so no
// acknowledgment is pending.
func (dev *Vioblk_t) Close() defs.Err_t {
	if !dev.opened {
		return -defs.EBADFD
	}
	dev.mmio.Write32(MMIO_QUEUE_SEL, queueId)
	dev.mmio.Write32(MMIO_QUEUE_READY, 0)
	dev.opened = false
	return 0
}

// xfer runs one single-block request and waits for the device. The
// per-device lock is held by the caller; the interrupt-disabled
// window covers the notify and the sleep so the ISR's broadcast
// cannot be lost.
func (dev *Vioblk_t) xfer(sector uint64, reqtype uint32) defs.Err_t {
	hdr := dev.phys.Dmaplen(dev.hdrPa, reqHdrSize)
	binary.LittleEndian.PutUint32(hdr[0:], reqtype)
	binary.LittleEndian.PutUint32(hdr[4:], 0)
	binary.LittleEndian.PutUint64(hdr[8:], sector)
	status := dev.phys.Dmaplen(dev.statPa, 1)
	status[0] = 0

	// the device writes the host buffer only on reads
	dflags := uint16(VIRTQ_DESC_F_NEXT)
	if reqtype == BLK_T_IN {
		dflags |= VIRTQ_DESC_F_WRITE
	}
	dev.wrdesc(2, uint64(dev.bufPa), uint32(dev.blksz), dflags, 2)

	av := dev.avail()
	binary.LittleEndian.PutUint16(av[0:], 0) // notifications on
	idx := binary.LittleEndian.Uint16(av[2:])
	binary.LittleEndian.PutUint16(av[4+2*(int(idx)%queueSz):], 0)
	riscv.Fence()
	binary.LittleEndian.PutUint16(av[2:], idx+1)
	riscv.Fence()

	was := intr.Disable()
	dev.mmio.Write32(MMIO_QUEUE_NOTIFY, queueId)
	for dev.usedIdx() == dev.usedSeen {
		dev.usedUpdated.Wait()
		intr.Disable()
	}
	dev.usedSeen++
	intr.Restore(was)

	if status[0] != BLK_S_OK {
		dbg("vioblk: bad status %v\n", status[0])
		return -defs.EIO
	}
	return 0
}

func (dev *Vioblk_t) Read(dst []uint8) (int, defs.Err_t) {
	if !dev.opened {
		return 0, -defs.EBADFD
	}
	if len(dst) == 0 {
		return 0, 0
	}
	if len(dst)%dev.blksz != 0 {
		return 0, -defs.ENOTSUP
	}
	dev.lk.Acquire()
	defer dev.lk.Release()

	acc := 0
	for acc < len(dst) {
		sector := dev.pos / uint64(dev.blksz)
		if err := dev.xfer(sector, BLK_T_IN); err != 0 {
			return acc, err
		}
		buf := dev.phys.Dmaplen(dev.bufPa, dev.blksz)
		copy(dst[acc:], buf)
		acc += dev.blksz
		dev.pos += uint64(dev.blksz)
	}
	return acc, 0
}

func (dev *Vioblk_t) Write(src []uint8) (int, defs.Err_t) {
	if !dev.opened {
		return 0, -defs.EBADFD
	}
	if dev.readonly {
		return 0, -defs.EIO
	}
	if len(src) == 0 {
		return 0, 0
	}
	if len(src)%dev.blksz != 0 {
		return 0, -defs.ENOTSUP
	}
	dev.lk.Acquire()
	defer dev.lk.Release()

	acc := 0
	for acc < len(src) {
		buf := dev.phys.Dmaplen(dev.bufPa, dev.blksz)
		copy(buf, src[acc:acc+dev.blksz])
		sector := dev.pos / uint64(dev.blksz)
		if err := dev.xfer(sector, BLK_T_OUT); err != 0 {
			return acc, err
		}
		acc += dev.blksz
		dev.pos += uint64(dev.blksz)
	}
	return acc, 0
}

func (dev *Vioblk_t) Ioctl(cmd int, arg *uint64) defs.Err_t {
	if arg == nil {
		return -defs.EINVAL
	}
	switch cmd {
	case fdops.IOCTL_GETLEN:
		*arg = dev.size
	case fdops.IOCTL_GETPOS:
		*arg = dev.pos
	case fdops.IOCTL_SETPOS:
		dev.lk.Acquire()
		dev.pos = *arg
		dev.lk.Release()
	case fdops.IOCTL_GETBLKSZ:
		*arg = uint64(dev.blksz)
	default:
		return -defs.ENOTSUP
	}
	return 0
}

// isr: bit 0 of the interrupt status is the used-ring update; wake
// the waiter, then acknowledge everything we saw.
func isr(irqno int, aux interface{}) {
	dev := aux.(*Vioblk_t)
	is := dev.mmio.Read32(MMIO_INTERRUPT_STATUS)
	if is&1 != 0 {
		dev.usedUpdated.Broadcast()
	}
	dev.mmio.Write32(MMIO_INTERRUPT_ACK, is)
}
