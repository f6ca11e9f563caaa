package vm

import "testing"

import "osprey/mem"

// a small machine: RAM arena plus a kernel image that ends half a
// megapage into RAM (Init requires the image to fit in the first
// megapage)
func mkTestVm() *Vm_t {
	mp := mem.MkMemphys(mem.RAM_START, int(mem.RAM_SIZE)/mem.PGSIZE)
	kimg := Kimage_t{
		TextStart:   mem.RAM_START,
		TextEnd:     mem.RAM_START + 0x40000,
		RodataStart: mem.RAM_START + 0x40000,
		RodataEnd:   mem.RAM_START + 0x60000,
		DataStart:   mem.RAM_START + 0x60000,
		End:         mem.RAM_START + 0x80000,
	}
	return Init(mp, kimg)
}

func TestWalkDeterminism(t *testing.T) {
	v := mkTestVm()
	va := mem.USER_START_VMA + 0x3000
	pa := v.AllocAndMap(va, PTE_R|PTE_W|PTE_U)
	p1 := v.walk(v.activeRoot(), va, false)
	p2 := v.walk(v.activeRoot(), va, true)
	if p1 != p2 {
		t.Fatalf("walk not deterministic: %p vs %p", p1, p2)
	}
	if p1.Pa() != pa {
		t.Fatalf("leaf points at %#x, mapped %#x", p1.Pa(), pa)
	}
}

func TestWalkNoCreate(t *testing.T) {
	v := mkTestVm()
	if v.walk(v.activeRoot(), mem.USER_START_VMA, false) != nil {
		t.Fatalf("walk invented a mapping")
	}
}

func TestLeafFlags(t *testing.T) {
	v := mkTestVm()
	va := mem.USER_START_VMA
	v.AllocAndMap(va, PTE_R|PTE_W|PTE_U)
	pte := *v.walk(v.activeRoot(), va, false)
	want := PTE_V | PTE_A | PTE_D | PTE_R | PTE_W | PTE_U
	if pte.Flags() != want {
		t.Fatalf("leaf flags %#x, want %#x", pte.Flags(), want)
	}
	// inner entries are V-only
	pt2 := ptofpage(v.Phys, v.activeRoot())
	inner := pt2[vpn2(va)]
	if inner.Flags() != PTE_V {
		t.Fatalf("inner flags %#x, want V only", inner.Flags())
	}
}

func TestSetPageFlags(t *testing.T) {
	v := mkTestVm()
	va := mem.USER_START_VMA
	v.AllocAndMap(va, PTE_R|PTE_W|PTE_U)
	v.SetPageFlags(va, PTE_R|PTE_X|PTE_U)
	pte := *v.walk(v.activeRoot(), va, false)
	want := PTE_V | PTE_A | PTE_D | PTE_R | PTE_X | PTE_U
	if pte.Flags() != want {
		t.Fatalf("flags %#x, want %#x", pte.Flags(), want)
	}
}

func TestSpaceCreateSharesKernelHalf(t *testing.T) {
	v := mkTestVm()
	mt := v.SpaceCreate(1)
	pt2 := ptofpage(v.Phys, mt.Root())
	main := ptofpage(v.Phys, v.MainMtag.Root())
	for i := range main {
		if main[i]&PTE_V != 0 && pt2[i] != main[i] {
			t.Fatalf("root slot %v differs: %#x vs %#x", i, pt2[i], main[i])
		}
	}
	// creating a space must not touch the main tables
	if v.walk(v.MainMtag.Root(), mem.USER_START_VMA, false) != nil {
		t.Fatalf("user mapping appeared in main space")
	}
}

func TestCloneCopiesUserPages(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	va := mem.USER_START_VMA + 0x7000
	pa := v.AllocAndMap(va, PTE_R|PTE_W|PTE_U)
	pg := v.Phys.Dmap(pa)
	for i := range pg {
		pg[i] = uint8(i)
	}

	cs := v.SpaceClone(2)
	cpte := v.walk(cs.Root(), va, false)
	if cpte == nil || *cpte&PTE_V == 0 {
		t.Fatalf("child missing mapping")
	}
	if cpte.Pa() == pa {
		t.Fatalf("child shares parent frame")
	}
	cpg := v.Phys.Dmap(cpte.Pa())
	if *cpg != *pg {
		t.Fatalf("child page differs from parent")
	}
	ppte := v.walk(v.activeRoot(), va, false)
	if cpte.Flags() != ppte.Flags() {
		t.Fatalf("child flags %#x, parent %#x", cpte.Flags(), ppte.Flags())
	}
}

func TestCloneSkipsKernelOnlyPages(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	va := mem.USER_START_VMA + 0x2000
	v.AllocAndMap(va, PTE_R|PTE_W) // present but not user-visible
	cs := v.SpaceClone(2)
	if pte := v.walk(cs.Root(), va, false); pte != nil && *pte&PTE_V != 0 {
		t.Fatalf("kernel-only page was cloned")
	}
}

func TestReclaimLeavesNoUserLeaf(t *testing.T) {
	v := mkTestVm()
	before := v.Pool.Nfree()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	for i := 0; i < 5; i++ {
		v.AllocAndMap(mem.USER_START_VMA+uintptr(i*mem.PGSIZE), PTE_R|PTE_W|PTE_U)
	}
	v.SpaceReclaim()
	if v.ActiveMtag() != v.MainMtag {
		t.Fatalf("not back on main space")
	}
	for va := mem.USER_START_VMA; va < mem.USER_START_VMA+0x10000; va += uintptr(mem.PGSIZE) {
		if pte := v.Walk(va); pte != nil && *pte&PTE_V != 0 && *pte&PTE_U != 0 {
			t.Fatalf("user leaf survived reclaim at %#x", va)
		}
	}
	if got := v.Pool.Nfree(); got != before {
		t.Fatalf("frames leaked: %v before, %v after", before, got)
	}
}

func TestValidateBitwiseFlags(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	va := mem.USER_START_VMA
	v.AllocAndMap(va, PTE_R|PTE_U)
	// R|U page: asking for R|U passes, asking for W|U must fail. A
	// truthiness check instead of a bitwise subset check would pass
	// both.
	if err := v.ValidateVptrLen(va, 16, PTE_R|PTE_U); err != 0 {
		t.Fatalf("valid pointer rejected: %v", err)
	}
	if err := v.ValidateVptrLen(va, 16, PTE_W|PTE_U); err == 0 {
		t.Fatalf("write check passed on read-only page")
	}
	if err := v.ValidateVptrLen(va+uintptr(mem.PGSIZE), 1, PTE_R); err == 0 {
		t.Fatalf("unmapped page validated")
	}
}

func TestValidateVstr(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	va := mem.USER_START_VMA
	pa := v.AllocAndMap(va, PTE_R|PTE_U)
	pg := v.Phys.Dmap(pa)
	copy(pg[:], []uint8("hello\x00"))
	if err := v.ValidateVstr(va, PTE_R|PTE_U); err != 0 {
		t.Fatalf("valid string rejected: %v", err)
	}
	s, err := v.Userstr(va, 64, PTE_U)
	if err != 0 || s != "hello" {
		t.Fatalf("got %q err %v", s, err)
	}
	// string crossing into an unmapped page with no NUL
	for i := range pg {
		pg[i] = 'x'
	}
	if err := v.ValidateVstr(va, PTE_R|PTE_U); err == 0 {
		t.Fatalf("unterminated string validated")
	}
}

func TestCopyinCopyout(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	va := mem.USER_START_VMA + uintptr(mem.PGSIZE) - 8
	v.AllocAndMap(mem.USER_START_VMA, PTE_R|PTE_W|PTE_U)
	v.AllocAndMap(mem.USER_START_VMA+uintptr(mem.PGSIZE), PTE_R|PTE_W|PTE_U)
	src := []uint8("cross-page payload")
	if err := v.Copyout(va, src, PTE_U); err != 0 {
		t.Fatalf("copyout: %v", err)
	}
	dst := make([]uint8, len(src))
	if err := v.Copyin(dst, va, PTE_U); err != 0 {
		t.Fatalf("copyin: %v", err)
	}
	if string(dst) != string(src) {
		t.Fatalf("round trip: %q", dst)
	}
}

func TestPageFault(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	va := mem.USER_STACK_VMA - 8
	if !v.HandlePageFault(va) {
		t.Fatalf("stack fault not serviced")
	}
	pte := v.Walk(mem.Pgrounddown(va))
	if pte == nil || *pte&PTE_V == 0 {
		t.Fatalf("no mapping after fault")
	}
	want := PTE_V | PTE_A | PTE_D | PTE_R | PTE_W | PTE_U
	if pte.Flags() != want {
		t.Fatalf("fault page flags %#x", pte.Flags())
	}
	if v.HandlePageFault(mem.USER_START_VMA - 0x1000) {
		t.Fatalf("fault below user range serviced")
	}
	if v.HandlePageFault(mem.USER_END_VMA) {
		t.Fatalf("fault above user range serviced")
	}
}

func TestForkEquality(t *testing.T) {
	v := mkTestVm()
	ps := v.SpaceCreate(1)
	v.SpaceSwitch(ps)
	for i := 0; i < 3; i++ {
		va := mem.USER_START_VMA + uintptr(i*mem.PGSIZE)
		pa := v.AllocAndMap(va, PTE_R|PTE_W|PTE_U)
		pg := v.Phys.Dmap(pa)
		for j := range pg {
			pg[j] = uint8(i*7 + j)
		}
	}
	cs := v.SpaceClone(2)
	for va := mem.USER_START_VMA; va < mem.USER_START_VMA+0x100000; va += uintptr(mem.PGSIZE) {
		ppte := v.walk(ps.Root(), va, false)
		cpte := v.walk(cs.Root(), va, false)
		pok := ppte != nil && *ppte&PTE_V != 0
		cok := cpte != nil && *cpte&PTE_V != 0
		if pok != cok {
			t.Fatalf("mapping presence differs at %#x", va)
		}
		if !pok {
			continue
		}
		if *v.Phys.Dmap(ppte.Pa()) != *v.Phys.Dmap(cpte.Pa()) {
			t.Fatalf("page contents differ at %#x", va)
		}
	}
}
