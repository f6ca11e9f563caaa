package elf

import "encoding/binary"
import "fmt"

import "osprey/defs"
import "osprey/fdops"
import "osprey/mem"
import "osprey/vm"

const elf_debug = false

func dbg(x string, args ...interface{}) {
	if elf_debug {
		fmt.Printf(x, args...)
	}
}

// ELF64 executable loader over an I/O capability. Validates the
// header, maps each PT_LOAD segment RW|U in the active space, copies
// the file bytes in, and then restricts the pages to the segment's
// own permissions. The bss tail stays zero because frames are zeroed
// at allocation.

const (
	ehdrSize = 64
	phdrSize = 56

	etExec    = 2
	emRiscv   = 243
	evCurrent = 1

	ptLoad = 1

	pfX = 0x1
	pfW = 0x2
	pfR = 0x4

	elfclass64  = 2
	elfdata2lsb = 1
)

type ehdr_t struct {
	entry     uint64
	phoff     uint64
	phentsize uint16
	phnum     uint16
}

type phdr_t struct {
	ptype  uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

func parseEhdr(b []uint8) (ehdr_t, defs.Err_t) {
	var e ehdr_t
	if b[0] != 0x7f || b[1] != 'E' || b[2] != 'L' || b[3] != 'F' {
		return e, -defs.EBADFMT
	}
	if b[4] != elfclass64 || b[5] != elfdata2lsb || b[6] != evCurrent {
		return e, -defs.EBADFMT
	}
	if binary.LittleEndian.Uint16(b[16:]) != etExec {
		return e, -defs.EBADFMT
	}
	if binary.LittleEndian.Uint16(b[18:]) != emRiscv {
		return e, -defs.EBADFMT
	}
	if binary.LittleEndian.Uint32(b[20:]) != evCurrent {
		return e, -defs.EBADFMT
	}
	e.entry = binary.LittleEndian.Uint64(b[24:])
	e.phoff = binary.LittleEndian.Uint64(b[32:])
	e.phentsize = binary.LittleEndian.Uint16(b[54:])
	e.phnum = binary.LittleEndian.Uint16(b[56:])
	return e, 0
}

func parsePhdr(b []uint8) phdr_t {
	return phdr_t{
		ptype:  binary.LittleEndian.Uint32(b[0:]),
		flags:  binary.LittleEndian.Uint32(b[4:]),
		offset: binary.LittleEndian.Uint64(b[8:]),
		vaddr:  binary.LittleEndian.Uint64(b[16:]),
		filesz: binary.LittleEndian.Uint64(b[32:]),
		memsz:  binary.LittleEndian.Uint64(b[40:]),
	}
}

func segPerms(flags uint32) vm.Pte_t {
	p := vm.PTE_U
	if flags&pfR != 0 {
		p |= vm.PTE_R
	}
	if flags&pfW != 0 {
		p |= vm.PTE_W
	}
	if flags&pfX != 0 {
		p |= vm.PTE_X
	}
	return p
}

// Load maps the executable behind io into the active space and
// returns its entry point.
func Load(io fdops.Io_i, v *vm.Vm_t) (uintptr, defs.Err_t) {
	if err := fdops.Ioseek(io, 0); err != 0 {
		return 0, -defs.EIO
	}
	hb := make([]uint8, ehdrSize)
	if n, err := fdops.IoreadFull(io, hb); err != 0 || n != ehdrSize {
		return 0, -defs.EIO
	}
	eh, err := parseEhdr(hb)
	if err != 0 {
		dbg("elf: bad header\n")
		return 0, err
	}
	if eh.phentsize != phdrSize {
		return 0, -defs.EBADFMT
	}
	if uintptr(eh.entry) < mem.USER_START_VMA || uintptr(eh.entry) >= mem.USER_END_VMA {
		return 0, -defs.EBADFMT
	}

	pb := make([]uint8, phdrSize)
	chunk := make([]uint8, mem.PGSIZE)
	for i := 0; i < int(eh.phnum); i++ {
		if err := fdops.Ioseek(io, eh.phoff+uint64(i*phdrSize)); err != 0 {
			return 0, -defs.EIO
		}
		if n, err := fdops.IoreadFull(io, pb); err != 0 || n != phdrSize {
			return 0, -defs.EIO
		}
		ph := parsePhdr(pb)
		if ph.ptype != ptLoad {
			continue
		}
		if ph.filesz > ph.memsz {
			return 0, -defs.EBADFMT
		}
		if uintptr(ph.vaddr) < mem.USER_START_VMA ||
			uintptr(ph.vaddr+ph.memsz) > mem.USER_END_VMA {
			dbg("elf: segment outside user range\n")
			return 0, -defs.EBADFMT
		}

		start := mem.Pgrounddown(uintptr(ph.vaddr))
		end := mem.Pgroundup(uintptr(ph.vaddr + ph.memsz))
		v.AllocAndMapRange(start, end-start, vm.PTE_R|vm.PTE_W|vm.PTE_U)

		if err := fdops.Ioseek(io, ph.offset); err != 0 {
			return 0, -defs.EIO
		}
		va := uintptr(ph.vaddr)
		left := int(ph.filesz)
		for left > 0 {
			take := len(chunk)
			if take > left {
				take = left
			}
			if n, err := fdops.IoreadFull(io, chunk[:take]); err != 0 || n != take {
				return 0, -defs.EIO
			}
			if err := v.Copyout(va, chunk[:take], vm.PTE_U); err != 0 {
				return 0, err
			}
			va += uintptr(take)
			left -= take
		}

		v.SetRangeFlags(start, end-start, segPerms(ph.flags))
		dbg("elf: segment [%#x,%#x) perms %#x\n", start, end, ph.flags)
	}
	return uintptr(eh.entry), 0
}
