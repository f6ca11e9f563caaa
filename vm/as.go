package vm

import "fmt"

import "osprey/intr"
import "osprey/mem"
import "osprey/riscv"

const vm_debug = false

func dbg(x string, args ...interface{}) {
	if vm_debug {
		fmt.Printf(x, args...)
	}
}

// Mtag_t identifies an address space: satp mode bits, ASID, and the
// root table's page number, ready to load into the translation
// register.
type Mtag_t uintptr

func mkMtag(asid int, root mem.Pa_t) Mtag_t {
	return Mtag_t(riscv.SATP_MODE_SV39<<riscv.SATP_MODE_SHIFT |
		uintptr(asid)<<riscv.SATP_ASID_SHIFT |
		mem.Pagenum(root))
}

func (m Mtag_t) Root() mem.Pa_t {
	return mem.Pageptr(uintptr(m) & (1<<riscv.SATP_ASID_SHIFT - 1))
}

// Kimage_t describes the running kernel image so the main tables can
// give each region its proper permissions. On hardware these come
// from linker symbols; hosted harnesses make them up.
type Kimage_t struct {
	TextStart   mem.Pa_t
	TextEnd     mem.Pa_t
	RodataStart mem.Pa_t
	RodataEnd   mem.Pa_t
	DataStart   mem.Pa_t
	End         mem.Pa_t
}

// Vm_t owns the page pool and the master kernel-only space. There is
// one per hart; every subsystem reaches it through Kvm.
type Vm_t struct {
	Phys mem.Phys_i
	Pool *mem.Pool_t
	// the kernel-only space, alive from Init onward
	MainMtag Mtag_t
}

var Kvm *Vm_t

// Init builds the kernel master tables and activates paging.
// Identity-maps the low two gigabytes as RW|G gigapages (MMIO), maps
// the kernel image at page granularity with region permissions, and
// the rest of RAM as RW|G megapages. Seeds the heap and the page pool
// from the space past the kernel image.
func Init(phys mem.Phys_i, kimg Kimage_t) *Vm_t {
	if kimg.End-mem.RAM_START > mem.Pa_t(mem.MEGA_SIZE) {
		panic("kernel too large")
	}

	// the heap takes the memory between the kernel image and the next
	// page boundary, topped up to at least HEAP_INIT_MIN
	heapStart := kimg.End
	heapEnd := mem.Pa_t(mem.Pgroundup(uintptr(heapStart)))
	if uintptr(heapEnd-heapStart) < mem.HEAP_INIT_MIN {
		heapEnd += mem.Pa_t(mem.Pgroundup(mem.HEAP_INIT_MIN - uintptr(heapEnd-heapStart)))
	}
	if heapEnd >= mem.RAM_END {
		panic("not enough memory")
	}
	mem.Kheap = mem.MkHeap(phys, heapStart, heapEnd)

	pool := mem.MkPool(phys)
	pool.Seed(heapEnd, mem.RAM_END)
	mem.Kpool = pool

	v := &Vm_t{Phys: phys, Pool: pool}

	root := pool.AllocPage()
	pt2 := ptofpage(phys, root)
	pt1 := pool.AllocPage()
	pt0 := pool.AllocPage()

	// identity map the first two gigabytes (MMIO) as gigapages
	for pa := uintptr(0); pa < uintptr(mem.RAM_START); pa += mem.GIGA_SIZE {
		pt2[vpn2(pa)] = leafPte(mem.Pa_t(pa), PTE_R|PTE_W|PTE_G)
	}

	// the third gigarange holds the kernel; its first megarange is
	// mapped at page granularity with image-region permissions
	pt2[vpn2(uintptr(mem.RAM_START))] = ptabPte(pt1, PTE_G)
	pt1t := ptofpage(phys, pt1)
	pt1t[vpn1(uintptr(mem.RAM_START))] = ptabPte(pt0, PTE_G)
	pt0t := ptofpage(phys, pt0)

	for pa := kimg.TextStart; pa < kimg.TextEnd; pa += mem.Pa_t(mem.PGSIZE) {
		pt0t[vpn0(uintptr(pa))] = leafPte(pa, PTE_R|PTE_X|PTE_G)
	}
	for pa := kimg.RodataStart; pa < kimg.RodataEnd; pa += mem.Pa_t(mem.PGSIZE) {
		pt0t[vpn0(uintptr(pa))] = leafPte(pa, PTE_R|PTE_G)
	}
	for pa := kimg.DataStart; pa < mem.RAM_START+mem.Pa_t(mem.MEGA_SIZE); pa += mem.Pa_t(mem.PGSIZE) {
		pt0t[vpn0(uintptr(pa))] = leafPte(pa, PTE_R|PTE_W|PTE_G)
	}

	// remaining RAM as RW megapages
	for pa := mem.RAM_START + mem.Pa_t(mem.MEGA_SIZE); pa < mem.RAM_END; pa += mem.Pa_t(mem.MEGA_SIZE) {
		pt1t[vpn1(uintptr(pa))] = leafPte(pa, PTE_R|PTE_W|PTE_G)
	}

	v.MainMtag = mkMtag(0, root)
	riscv.CsrwSatp(uintptr(v.MainMtag))
	riscv.SfenceVMA()

	// allow S mode to touch U pages through the validated paths
	riscv.CsrsSstatus(riscv.SSTATUS_SUM)

	Kvm = v
	return v
}

func (v *Vm_t) ActiveMtag() Mtag_t {
	return Mtag_t(riscv.CsrrSatp())
}

func (v *Vm_t) activeRoot() mem.Pa_t {
	return v.ActiveMtag().Root()
}

// SpaceSwitch loads mtag into the translation register and flushes
// non-global TLB entries.
func (v *Vm_t) SpaceSwitch(mtag Mtag_t) {
	riscv.CsrwSatp(uintptr(mtag))
	riscv.SfenceVMA()
}

// SpaceCreate constructs a new space sharing the kernel-half tables by
// reference. No user mappings exist in the new space. The main tables
// are never mutated.
func (v *Vm_t) SpaceCreate(asid int) Mtag_t {
	was := intr.Disable()
	defer intr.Restore(was)
	root := v.Pool.AllocPage()
	pt2 := ptofpage(v.Phys, root)
	main := ptofpage(v.Phys, v.MainMtag.Root())
	for i, pte := range main {
		if pte&PTE_V != 0 {
			pt2[i] = pte
		}
	}
	return mkMtag(asid, root)
}

// SpaceClone is SpaceCreate plus a deep copy of the active space's
// user pages: every valid U leaf between USER_START_VMA and
// USER_END_VMA gets a fresh frame, a 4 KiB copy, and a leaf with the
// same flags in the child. Pages present but not user-visible are not
// copied.
func (v *Vm_t) SpaceClone(asid int) Mtag_t {
	nmtag := v.SpaceCreate(asid)
	was := intr.Disable()
	defer intr.Restore(was)
	aroot := v.activeRoot()
	nroot := nmtag.Root()

	for va := mem.USER_START_VMA; va < mem.USER_END_VMA; va += uintptr(mem.PGSIZE) {
		pte := v.walk(aroot, va, false)
		if pte == nil || *pte&PTE_V == 0 || *pte&PTE_U == 0 {
			continue
		}
		npa := v.Pool.AllocPage()
		src := v.Phys.Dmap((*pte).Pa())
		dst := v.Phys.Dmap(npa)
		*dst = *src
		npte := v.walk(nroot, va, true)
		if npte == nil {
			panic("walk unable to create")
		}
		*npte = Pte_t(mem.Pagenum(npa)<<pteppnShift) | (*pte).Flags()
	}
	return nmtag
}

// SpaceReclaim drains pending table updates, frees every user frame
// reachable in the active space along with the user-half table pages,
// and switches to the main kernel-only space. The space's root frame
// is freed as well; the mtag is dead afterwards.
func (v *Vm_t) SpaceReclaim() {
	riscv.SfenceVMA()
	amtag := v.ActiveMtag()
	if amtag == v.MainMtag {
		return
	}
	was := intr.Disable()
	aroot := amtag.Root()
	v.freeUser(aroot)
	v.SpaceSwitch(v.MainMtag)
	v.Pool.FreePage(aroot)
	intr.Restore(was)
}

// UnmapFreeUser frees the user frames of the active space but keeps
// the space itself; exec uses it before loading the new image.
func (v *Vm_t) UnmapFreeUser() {
	was := intr.Disable()
	v.freeUser(v.activeRoot())
	riscv.SfenceVMA()
	intr.Restore(was)
}

func (v *Vm_t) freeUser(root mem.Pa_t) {
	pt2 := ptofpage(v.Phys, root)
	for i2 := vpn2(mem.USER_START_VMA); i2 <= vpn2(mem.USER_END_VMA-1); i2++ {
		pte2 := pt2[i2]
		if pte2&PTE_V == 0 || pte2.leaf() {
			continue
		}
		pt1pa := pte2.Pa()
		pt1 := ptofpage(v.Phys, pt1pa)
		empty1 := true
		for i1 := 0; i1 < ptePerLevel; i1++ {
			pte1 := pt1[i1]
			if pte1&PTE_V == 0 {
				continue
			}
			if pte1.leaf() {
				empty1 = false
				continue
			}
			pt0pa := pte1.Pa()
			pt0 := ptofpage(v.Phys, pt0pa)
			empty0 := true
			for i0 := 0; i0 < ptePerLevel; i0++ {
				pte0 := pt0[i0]
				if pte0&PTE_V == 0 {
					continue
				}
				if pte0&PTE_U != 0 {
					v.Pool.FreePage(pte0.Pa())
					pt0[i0] = 0
				} else {
					empty0 = false
				}
			}
			if empty0 {
				v.Pool.FreePage(pt0pa)
				pt1[i1] = 0
			} else {
				empty1 = false
			}
		}
		if empty1 {
			v.Pool.FreePage(pt1pa)
			pt2[i2] = 0
		}
	}
}

// walk returns the leaf entry for va in the table rooted at root,
// descending through levels 2, 1, 0. A missing inner entry fails the
// walk when create is false; otherwise a zeroed table page is
// installed with V only.
func (v *Vm_t) walk(root mem.Pa_t, va uintptr, create bool) *Pte_t {
	pt := ptofpage(v.Phys, root)
	for _, idx := range [2]int{vpn2(va), vpn1(va)} {
		pte := pt[idx]
		if pte&PTE_V != 0 {
			if pte.leaf() {
				panic("walk into superpage")
			}
			pt = ptofpage(v.Phys, pte.Pa())
		} else {
			if !create {
				return nil
			}
			npa := v.Pool.AllocPage()
			pt[idx] = ptabPte(npa, 0)
			pt = ptofpage(v.Phys, npa)
		}
	}
	return &pt[vpn0(va)]
}

// Walk exposes the lookup half of the walker: the leaf entry for va in
// the active space, or nil if unmapped.
func (v *Vm_t) Walk(va uintptr) *Pte_t {
	return v.walk(v.activeRoot(), va, false)
}

// AllocAndMap allocates a frame and installs it at va in the active
// space with the given permissions plus V|A|D.
func (v *Vm_t) AllocAndMap(va uintptr, rwxug Pte_t) mem.Pa_t {
	was := intr.Disable()
	defer intr.Restore(was)
	pte := v.walk(v.activeRoot(), va, true)
	if pte == nil {
		panic("walk unable to create")
	}
	pa := v.Pool.AllocPage()
	*pte = leafPte(pa, rwxug)
	riscv.SfenceVMA()
	return pa
}

// AllocAndMapRange maps size bytes starting at va; size must be
// page-aligned.
func (v *Vm_t) AllocAndMapRange(va uintptr, size uintptr, rwxug Pte_t) {
	if size%uintptr(mem.PGSIZE) != 0 {
		panic("cannot map range of unaligned size")
	}
	for off := uintptr(0); off < size; off += uintptr(mem.PGSIZE) {
		v.AllocAndMap(va+off, rwxug)
	}
}

// SetPageFlags rewrites the permission bits of va's existing leaf,
// preserving V, A, and D.
func (v *Vm_t) SetPageFlags(va uintptr, rwxug Pte_t) {
	pte := v.walk(v.activeRoot(), va, false)
	if pte == nil || *pte&PTE_V == 0 {
		panic("set flags on unmapped page")
	}
	*pte = Pte_t(mem.Pagenum((*pte).Pa())<<pteppnShift) | rwxug | PTE_V | PTE_A | PTE_D
	riscv.SfenceVMA()
}

// SetRangeFlags applies SetPageFlags to each page of a range; size
// must be page-aligned.
func (v *Vm_t) SetRangeFlags(va uintptr, size uintptr, rwxug Pte_t) {
	if size%uintptr(mem.PGSIZE) != 0 {
		panic("cannot set flags on range of unaligned size")
	}
	for off := uintptr(0); off < size; off += uintptr(mem.PGSIZE) {
		v.SetPageFlags(va+off, rwxug)
	}
}

// HandlePageFault services a load/store page fault from user mode. A
// fault inside the user range demand-maps a fresh zeroed RW|U page; a
// fault outside it is fatal to the process (the caller kills it; a
// true kernel fault panics upstream).
func (v *Vm_t) HandlePageFault(va uintptr) bool {
	pva := mem.Pgrounddown(va)
	if pva < mem.USER_START_VMA || pva+uintptr(mem.PGSIZE) > mem.USER_END_VMA {
		return false
	}
	dbg("demand page @ %#x\n", pva)
	v.AllocAndMap(pva, PTE_R|PTE_W|PTE_U)
	return true
}
