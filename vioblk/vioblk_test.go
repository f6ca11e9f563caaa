package vioblk

import "encoding/binary"
import "testing"

import "osprey/defs"
import "osprey/device"
import "osprey/fdops"
import "osprey/intr"
import "osprey/mem"

// fakedisk_t models a virtio-blk device behind the register window:
// it keeps a register file, walks the indirect descriptor chain on
// queue notify, and raises the used interrupt. Requests complete
// inside the notify write, as a fast device would before the driver's
// sleep.
type fakedisk_t struct {
	t     *testing.T
	phys  mem.Phys_i
	irqno int

	disk  []uint8
	blksz int

	status     uint32
	intstatus  uint32
	featSel    uint32
	drvFeatSel uint32
	DrvFeat    uint64
	offered    uint64
	queueReady uint32

	descPa  uint64
	availPa uint64
	usedPa  uint64

	usedIdx uint16

	// observed protocol, for assertions
	NAvail  int
	NUsed   int
	Sectors []uint64
}

func mkfake(t *testing.T, phys mem.Phys_i, irqno int, nblocks int) *fakedisk_t {
	f := &fakedisk_t{
		t:     t,
		phys:  phys,
		irqno: irqno,
		blksz: 4096,
		disk:  make([]uint8, nblocks*4096),
	}
	f.offered = featbit(VIRTIO_F_INDIRECT) | featbit(VIRTIO_F_RING_RESET) |
		featbit(VIRTIO_BLK_F_BLK_SIZE)
	return f
}

func (f *fakedisk_t) Read32(off int) uint32 {
	switch off {
	case MMIO_MAGIC_VALUE:
		return MAGIC
	case MMIO_VERSION:
		return 2
	case MMIO_DEVICE_ID:
		return ID_BLOCK
	case MMIO_DEVICE_FEATURES:
		if f.featSel == 0 {
			return uint32(f.offered)
		}
		return uint32(f.offered >> 32)
	case MMIO_QUEUE_NUM_MAX:
		return 8
	case MMIO_QUEUE_READY:
		return f.queueReady
	case MMIO_STATUS:
		return f.status
	case MMIO_INTERRUPT_STATUS:
		return f.intstatus
	case MMIO_CONFIG + CFG_CAPACITY:
		return uint32(uint64(len(f.disk)) / 512)
	case MMIO_CONFIG + CFG_CAPACITY + 4:
		return uint32(uint64(len(f.disk)) / 512 >> 32)
	case MMIO_CONFIG + CFG_BLK_SIZE:
		return uint32(f.blksz)
	}
	return 0
}

func (f *fakedisk_t) Write32(off int, v uint32) {
	switch off {
	case MMIO_STATUS:
		f.status = v
	case MMIO_DEVICE_FEAT_SEL:
		f.featSel = v
	case MMIO_DRIVER_FEAT_SEL:
		f.drvFeatSel = v
	case MMIO_DRIVER_FEATURES:
		if f.drvFeatSel == 0 {
			f.DrvFeat = f.DrvFeat&^0xffffffff | uint64(v)
		} else {
			f.DrvFeat = f.DrvFeat&(0xffffffff) | uint64(v)<<32
		}
	case MMIO_QUEUE_READY:
		f.queueReady = v
	case MMIO_QUEUE_DESC_LOW:
		f.descPa = f.descPa&^0xffffffff | uint64(v)
	case MMIO_QUEUE_DESC_HIGH:
		f.descPa = f.descPa&0xffffffff | uint64(v)<<32
	case MMIO_QUEUE_AVAIL_LOW:
		f.availPa = f.availPa&^0xffffffff | uint64(v)
	case MMIO_QUEUE_AVAIL_HIGH:
		f.availPa = f.availPa&0xffffffff | uint64(v)<<32
	case MMIO_QUEUE_USED_LOW:
		f.usedPa = f.usedPa&^0xffffffff | uint64(v)
	case MMIO_QUEUE_USED_HIGH:
		f.usedPa = f.usedPa&0xffffffff | uint64(v)<<32
	case MMIO_QUEUE_NOTIFY:
		f.service()
	case MMIO_INTERRUPT_ACK:
		f.intstatus &^= v
	}
}

type fdesc struct {
	addr  uint64
	dlen  uint32
	flags uint16
	next  uint16
}

func (f *fakedisk_t) rddesc(base uint64, i int) fdesc {
	b := f.phys.Dmaplen(mem.Pa_t(base)+mem.Pa_t(i*descSize), descSize)
	return fdesc{
		addr:  binary.LittleEndian.Uint64(b[0:]),
		dlen:  binary.LittleEndian.Uint32(b[8:]),
		flags: binary.LittleEndian.Uint16(b[12:]),
		next:  binary.LittleEndian.Uint16(b[14:]),
	}
}

func (f *fakedisk_t) service() {
	av := f.phys.Dmaplen(mem.Pa_t(f.availPa), 8)
	availIdx := binary.LittleEndian.Uint16(av[2:])
	for f.usedIdx != availIdx {
		head := int(binary.LittleEndian.Uint16(av[4+2*(int(f.usedIdx)%queueSz):]))
		f.NAvail++
		f.one(head)
		// publish the used element
		ub := f.phys.Dmaplen(mem.Pa_t(f.usedPa), 12)
		binary.LittleEndian.PutUint32(ub[4:], uint32(head))
		binary.LittleEndian.PutUint32(ub[8:], uint32(f.blksz))
		f.usedIdx++
		binary.LittleEndian.PutUint16(ub[2:], f.usedIdx)
		f.NUsed++
		f.intstatus |= 1
		intr.Dispatch(f.irqno)
	}
}

func (f *fakedisk_t) one(head int) {
	ind := f.rddesc(f.descPa, head)
	if ind.flags&VIRTQ_DESC_F_INDIRECT == 0 {
		f.t.Fatalf("head descriptor not indirect")
	}
	hdr := f.rddesc(ind.addr, 0)
	data := f.rddesc(ind.addr, int(hdr.next))
	status := f.rddesc(ind.addr, int(data.next))

	hb := f.phys.Dmaplen(mem.Pa_t(hdr.addr), int(hdr.dlen))
	reqtype := binary.LittleEndian.Uint32(hb[0:])
	sector := binary.LittleEndian.Uint64(hb[8:])
	f.Sectors = append(f.Sectors, sector)

	sb := f.phys.Dmaplen(mem.Pa_t(status.addr), 1)
	off := int(sector) * f.blksz
	if off+int(data.dlen) > len(f.disk) {
		sb[0] = BLK_S_IOERR
		return
	}
	db := f.phys.Dmaplen(mem.Pa_t(data.addr), int(data.dlen))
	switch reqtype {
	case BLK_T_IN:
		if data.flags&VIRTQ_DESC_F_WRITE == 0 {
			f.t.Fatalf("read request without device-write flag")
		}
		copy(db, f.disk[off:])
		sb[0] = BLK_S_OK
	case BLK_T_OUT:
		if data.flags&VIRTQ_DESC_F_WRITE != 0 {
			f.t.Fatalf("write request with device-write flag")
		}
		copy(f.disk[off:], db)
		sb[0] = BLK_S_OK
	default:
		sb[0] = BLK_S_UNSUPP
	}
}

var testIrq = 10

func mkdev(t *testing.T, nblocks int) (*Vioblk_t, *fakedisk_t, fdops.Io_i) {
	device.Reset()
	mp := mem.MkMemphys(mem.RAM_START, 64)
	heap := mem.MkHeap(mp, mp.Base(), mp.End())
	testIrq++
	fake := mkfake(t, mp, testIrq, nblocks)
	dev := Attach(fake, testIrq, mp, heap)
	if dev == nil {
		t.Fatalf("attach failed")
	}
	io, err := device.Open("blk", 0)
	if err != 0 {
		t.Fatalf("open: %v", err)
	}
	return dev, fake, io
}

func TestAttachNegotiation(t *testing.T) {
	_, fake, _ := mkdev(t, 8)
	needed := featbit(VIRTIO_F_INDIRECT) | featbit(VIRTIO_F_RING_RESET)
	if fake.DrvFeat&needed != needed {
		t.Fatalf("needed features not negotiated: %#x", fake.DrvFeat)
	}
	if fake.status&STAT_DRIVER_OK == 0 {
		t.Fatalf("device not live: status %#x", fake.status)
	}
	if fake.queueReady != 1 {
		t.Fatalf("queue not enabled")
	}
}

func TestAttachRefusesWithoutFeatures(t *testing.T) {
	device.Reset()
	mp := mem.MkMemphys(mem.RAM_START, 64)
	heap := mem.MkHeap(mp, mp.Base(), mp.End())
	testIrq++
	fake := mkfake(t, mp, testIrq, 8)
	fake.offered = featbit(VIRTIO_F_RING_RESET) // no indirect
	if dev := Attach(fake, testIrq, mp, heap); dev != nil {
		t.Fatalf("attach succeeded without indirect descriptors")
	}
	if fake.status&STAT_FAILED == 0 {
		t.Fatalf("FAILED not set")
	}
}

func TestReadWriteRoundtrip(t *testing.T) {
	_, fake, io := mkdev(t, 8)
	src := make([]uint8, 2*4096)
	for i := range src {
		src[i] = uint8(i * 3)
	}
	n, err := io.Write(src)
	if n != len(src) || err != 0 {
		t.Fatalf("write: %v %v", n, err)
	}
	if err := fdops.Ioseek(io, 0); err != 0 {
		t.Fatalf("seek: %v", err)
	}
	dst := make([]uint8, len(src))
	n, err = io.Read(dst)
	if n != len(dst) || err != 0 {
		t.Fatalf("read: %v %v", n, err)
	}
	for i := range dst {
		if dst[i] != src[i] {
			t.Fatalf("byte %v: %v != %v", i, dst[i], src[i])
		}
	}
	// each block is one avail enqueue and one used dequeue, sector
	// numbers matching the position
	if fake.NAvail != 4 || fake.NUsed != 4 {
		t.Fatalf("protocol count: %v avail, %v used", fake.NAvail, fake.NUsed)
	}
	want := []uint64{0, 1, 0, 1}
	for i, s := range fake.Sectors {
		if s != want[i] {
			t.Fatalf("sector sequence %v, want %v", fake.Sectors, want)
		}
	}
}

func TestMisalignedRequest(t *testing.T) {
	_, _, io := mkdev(t, 8)
	if _, err := io.Read(make([]uint8, 100)); err != -defs.ENOTSUP {
		t.Fatalf("misaligned read: %v", err)
	}
	if _, err := io.Write(make([]uint8, 5000)); err != -defs.ENOTSUP {
		t.Fatalf("misaligned write: %v", err)
	}
}

func TestDeviceIoctls(t *testing.T) {
	_, _, io := mkdev(t, 8)
	var v uint64
	if err := io.Ioctl(fdops.IOCTL_GETBLKSZ, &v); err != 0 || v != 4096 {
		t.Fatalf("blksz: %v %v", err, v)
	}
	if err := io.Ioctl(fdops.IOCTL_GETLEN, &v); err != 0 || v != 8*4096 {
		t.Fatalf("len: %v %v", err, v)
	}
	v = 4096
	if err := io.Ioctl(fdops.IOCTL_SETPOS, &v); err != 0 {
		t.Fatalf("setpos: %v", err)
	}
	if err := io.Ioctl(fdops.IOCTL_GETPOS, &v); err != 0 || v != 4096 {
		t.Fatalf("getpos: %v %v", err, v)
	}
	if err := io.Ioctl(99, &v); err != -defs.ENOTSUP {
		t.Fatalf("unknown ioctl: %v", err)
	}
}

func TestSecondOpenBusy(t *testing.T) {
	mkdev(t, 8)
	if _, err := device.Open("blk", 0); err != -defs.EBUSY {
		t.Fatalf("second open: %v", err)
	}
}

func TestTransferPastEnd(t *testing.T) {
	_, _, io := mkdev(t, 2)
	var pos uint64 = 2 * 4096
	if err := io.Ioctl(fdops.IOCTL_SETPOS, &pos); err != 0 {
		t.Fatalf("setpos: %v", err)
	}
	if _, err := io.Read(make([]uint8, 4096)); err != -defs.EIO {
		t.Fatalf("read past end: %v", err)
	}
}
