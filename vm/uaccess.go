package vm

import "osprey/defs"
import "osprey/mem"

// User-pointer validation and access. These are the only paths by
// which syscall arguments reach kernel code: validate page by page
// against the active space, then copy through the physical mapping.
// The flag check is a bitwise subset test; every touched page must be
// V and carry at least the needed rwxug bits.

func (v *Vm_t) pageFor(va uintptr, need Pte_t) ([]uint8, defs.Err_t) {
	pte := v.walk(v.activeRoot(), mem.Pgrounddown(va), false)
	if pte == nil || *pte&PTE_V == 0 {
		return nil, -defs.EBADFMT
	}
	if (*pte).Flags()&need != need {
		return nil, -defs.EBADFMT
	}
	off := va & uintptr(mem.PGOFFSET)
	pg := v.Phys.Dmap((*pte).Pa())
	return pg[off:], 0
}

// ValidateVptrLen checks that every page covering [va, va+n) is mapped
// with at least the given flags.
func (v *Vm_t) ValidateVptrLen(va uintptr, n int, need Pte_t) defs.Err_t {
	for n > 0 {
		b, err := v.pageFor(va, need)
		if err != 0 {
			return err
		}
		take := len(b)
		if take > n {
			take = n
		}
		va += uintptr(take)
		n -= take
	}
	return 0
}

// ValidateVstr checks that the bytes from va up to and including a NUL
// are readable with the given flags.
func (v *Vm_t) ValidateVstr(va uintptr, need Pte_t) defs.Err_t {
	for {
		b, err := v.pageFor(va, need)
		if err != 0 {
			return err
		}
		for _, c := range b {
			if c == 0 {
				return 0
			}
		}
		va += uintptr(len(b))
	}
}

// Copyin copies n bytes at user va into dst after validation.
func (v *Vm_t) Copyin(dst []uint8, va uintptr, need Pte_t) defs.Err_t {
	for len(dst) > 0 {
		b, err := v.pageFor(va, need|PTE_R)
		if err != 0 {
			return err
		}
		c := copy(dst, b)
		dst = dst[c:]
		va += uintptr(c)
	}
	return 0
}

// Copyout copies src to user va after validation.
func (v *Vm_t) Copyout(va uintptr, src []uint8, need Pte_t) defs.Err_t {
	for len(src) > 0 {
		b, err := v.pageFor(va, need|PTE_W)
		if err != 0 {
			return err
		}
		c := copy(b, src)
		src = src[c:]
		va += uintptr(c)
	}
	return 0
}

// Userstr fetches the NUL-terminated string at user va, at most max
// bytes long.
func (v *Vm_t) Userstr(va uintptr, max int, need Pte_t) (string, defs.Err_t) {
	ret := make([]uint8, 0, 32)
	for len(ret) < max {
		b, err := v.pageFor(va, need|PTE_R)
		if err != 0 {
			return "", err
		}
		for _, c := range b {
			if c == 0 {
				return string(ret), 0
			}
			ret = append(ret, c)
			if len(ret) >= max {
				return "", -defs.EBADFMT
			}
		}
		va += uintptr(len(b))
	}
	return "", -defs.EBADFMT
}
