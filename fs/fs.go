package fs

import "encoding/binary"
import "fmt"

import "osprey/defs"
import "osprey/fdops"
import "osprey/thread"

const fs_debug = false

func dbg(x string, args ...interface{}) {
	if fs_debug {
		fmt.Printf(x, args...)
	}
}

// Flat file system: [ boot block | inodes | data blocks ], every
// element 4 KiB. The boot block carries the counts and up to 63
// 64-byte directory entries; an inode is a byte length plus up to
// 1023 data block indices. No directories, no growth.

const (
	NAMELEN  = 32
	BLKSZ    = 4096
	NDENTRY  = 63
	NOPEN    = 32
	NIBLOCKS = 1023
)

type dentry_t struct {
	name string
	inum uint32
}

type inode_t struct {
	bytelen uint32
	blocks  [NIBLOCKS]uint32
}

type Fs_t struct {
	disk fdops.Io_i
	// one global lock over the in-memory metadata and all disk
	// traffic; each handle stages through its own buffers
	lk thread.Lock_t

	ndentry uint32
	ninodes uint32
	ndata   uint32
	dir     [NDENTRY]dentry_t

	files [NOPEN]file_t
}

// file_t is an open handle: the capability vtable over a buffered
// inode copy and a private block buffer. The handle keeps a real
// reference to its file system; no pointer arithmetic.
type file_t struct {
	fs     *Fs_t
	inUse  bool
	inum   uint32
	pos    uint32
	size   uint32
	inode  inode_t
	blkbuf []uint8
}

// Mount reads the boot block from io and prepares the handle table.
// All later metadata traffic goes through the same io.
func Mount(io fdops.Io_i) (*Fs_t, defs.Err_t) {
	if io == nil {
		return nil, -defs.EINVAL
	}
	fs := &Fs_t{disk: io}
	fs.lk.Init("fs")

	if err := fdops.Ioseek(io, 0); err != 0 {
		return nil, err
	}
	blk := make([]uint8, BLKSZ)
	if n, err := fdops.IoreadFull(io, blk); err != 0 || n != BLKSZ {
		dbg("fs: boot block read failed\n")
		return nil, -defs.EIO
	}
	fs.ndentry = binary.LittleEndian.Uint32(blk[0:])
	fs.ninodes = binary.LittleEndian.Uint32(blk[4:])
	fs.ndata = binary.LittleEndian.Uint32(blk[8:])
	if fs.ndentry > NDENTRY {
		return nil, -defs.EBADFMT
	}
	for i := uint32(0); i < fs.ndentry; i++ {
		de := blk[64+64*i:]
		fs.dir[i].name = cstr(de[:NAMELEN])
		fs.dir[i].inum = binary.LittleEndian.Uint32(de[NAMELEN:])
	}
	dbg("fs: %v dentries, %v inodes, %v data blocks\n", fs.ndentry, fs.ninodes, fs.ndata)
	return fs, 0
}

func cstr(b []uint8) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (fs *Fs_t) inodeOff(inum uint32) uint64 {
	return uint64(1+inum) * BLKSZ
}

func (fs *Fs_t) dataOff(idx uint32) uint64 {
	return uint64(1+fs.ninodes+idx) * BLKSZ
}

// readInode fills ino from disk; the fs lock must be held.
func (fs *Fs_t) readInode(inum uint32, ino *inode_t) defs.Err_t {
	if err := fdops.Ioseek(fs.disk, fs.inodeOff(inum)); err != 0 {
		return -defs.EIO
	}
	blk := make([]uint8, BLKSZ)
	if n, err := fdops.IoreadFull(fs.disk, blk); err != 0 || n != BLKSZ {
		return -defs.EIO
	}
	ino.bytelen = binary.LittleEndian.Uint32(blk[0:])
	for i := 0; i < NIBLOCKS; i++ {
		ino.blocks[i] = binary.LittleEndian.Uint32(blk[4+4*i:])
	}
	return 0
}

func (fs *Fs_t) readData(idx uint32, buf []uint8) defs.Err_t {
	if idx >= fs.ndata {
		return -defs.EIO
	}
	if err := fdops.Ioseek(fs.disk, fs.dataOff(idx)); err != 0 {
		return -defs.EIO
	}
	if n, err := fdops.IoreadFull(fs.disk, buf); err != 0 || n != BLKSZ {
		return -defs.EIO
	}
	return 0
}

func (fs *Fs_t) writeData(idx uint32, buf []uint8) defs.Err_t {
	if idx >= fs.ndata {
		return -defs.EIO
	}
	if err := fdops.Ioseek(fs.disk, fs.dataOff(idx)); err != 0 {
		return -defs.EIO
	}
	if n, err := fdops.Iowrite(fs.disk, buf); err != 0 || n != BLKSZ {
		return -defs.EIO
	}
	return 0
}

// Open resolves name in the directory and returns a fresh handle's
// capability. ENOENT on a miss; EBUSY when the handle table is full.
func (fs *Fs_t) Open(name string) (fdops.Io_i, defs.Err_t) {
	fs.lk.Acquire()
	defer fs.lk.Release()

	inum := uint32(0)
	found := false
	for i := uint32(0); i < fs.ndentry; i++ {
		if fs.dir[i].name == name {
			inum = fs.dir[i].inum
			found = true
			break
		}
	}
	if !found {
		dbg("fs: no file %q\n", name)
		return nil, -defs.ENOENT
	}
	if inum >= fs.ninodes {
		return nil, -defs.EBADFMT
	}

	var slot *file_t
	for i := range fs.files {
		if !fs.files[i].inUse {
			slot = &fs.files[i]
			break
		}
	}
	if slot == nil {
		return nil, -defs.EBUSY
	}
	if err := fs.readInode(inum, &slot.inode); err != 0 {
		return nil, err
	}
	slot.fs = fs
	slot.inUse = true
	slot.inum = inum
	slot.pos = 0
	slot.size = slot.inode.bytelen
	if slot.blkbuf == nil {
		slot.blkbuf = make([]uint8, BLKSZ)
	}
	dbg("fs: open %q (inode %v, %v bytes)\n", name, inum, slot.size)
	return slot, 0
}

func (f *file_t) Close() defs.Err_t {
	if !f.inUse {
		return -defs.EBADFD
	}
	f.fs.lk.Acquire()
	f.inUse = false
	f.pos = 0
	f.size = 0
	f.inum = 0
	f.fs.lk.Release()
	return 0
}

func (f *file_t) allocated() uint32 {
	return (f.inode.bytelen + BLKSZ - 1) / BLKSZ
}

func (f *file_t) Read(dst []uint8) (int, defs.Err_t) {
	if !f.inUse {
		return 0, -defs.EBADFD
	}
	if len(dst) == 0 {
		return 0, 0
	}
	f.fs.lk.Acquire()
	defer f.fs.lk.Release()

	if f.pos >= f.size {
		return 0, 0
	}
	remain := f.size - f.pos
	want := uint32(len(dst))
	if want > remain {
		want = remain
	}

	var acc uint32
	for acc < want {
		off := f.pos + acc
		bi := off / BLKSZ
		bo := off % BLKSZ
		if bi >= f.allocated() || bi >= NIBLOCKS {
			return int(acc), -defs.EIO
		}
		if err := f.fs.readData(f.inode.blocks[bi], f.blkbuf); err != 0 {
			return int(acc), err
		}
		take := BLKSZ - bo
		if take > want-acc {
			take = want - acc
		}
		copy(dst[acc:], f.blkbuf[bo:bo+take])
		acc += take
	}
	f.pos += acc
	return int(acc), 0
}

// Write stores into already-allocated blocks only; no growth. Bytes
// written may fall short of len(src) at block exhaustion. Writes do
// not extend the file length.
func (f *file_t) Write(src []uint8) (int, defs.Err_t) {
	if !f.inUse {
		return 0, -defs.EBADFD
	}
	if len(src) == 0 {
		return 0, 0
	}
	f.fs.lk.Acquire()
	defer f.fs.lk.Release()

	var acc uint32
	for acc < uint32(len(src)) {
		off := f.pos + acc
		bi := off / BLKSZ
		bo := off % BLKSZ
		if bi >= f.allocated() || bi >= NIBLOCKS {
			break
		}
		// stage the block: partial writes keep the rest intact
		if err := f.fs.readData(f.inode.blocks[bi], f.blkbuf); err != 0 {
			return int(acc), err
		}
		take := uint32(BLKSZ) - bo
		if take > uint32(len(src))-acc {
			take = uint32(len(src)) - acc
		}
		copy(f.blkbuf[bo:], src[acc:acc+take])
		if err := f.fs.writeData(f.inode.blocks[bi], f.blkbuf); err != 0 {
			return int(acc), err
		}
		acc += take
	}
	f.pos += acc
	return int(acc), 0
}

func (f *file_t) Ioctl(cmd int, arg *uint64) defs.Err_t {
	if arg == nil {
		return -defs.EINVAL
	}
	switch cmd {
	case fdops.IOCTL_GETLEN:
		*arg = uint64(f.size)
	case fdops.IOCTL_GETPOS:
		*arg = uint64(f.pos)
	case fdops.IOCTL_SETPOS:
		f.fs.lk.Acquire()
		defer f.fs.lk.Release()
		if *arg > uint64(f.size) {
			return -defs.EINVAL
		}
		f.pos = uint32(*arg)
	case fdops.IOCTL_GETBLKSZ:
		*arg = BLKSZ
	default:
		dbg("fs: unsupported ioctl %v\n", cmd)
		return -defs.ENOTSUP
	}
	return 0
}
