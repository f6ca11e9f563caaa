package mem

import "testing"

func mkTestPool(npages int) (*Pool_t, *Memphys_t) {
	mp := MkMemphys(RAM_START, npages)
	p := MkPool(mp)
	p.Seed(mp.Base(), mp.End())
	return p, mp
}

func TestPoolLIFO(t *testing.T) {
	p, _ := mkTestPool(8)
	a := p.AllocPage()
	b := p.AllocPage()
	if a == b {
		t.Fatalf("same frame twice: %#x", a)
	}
	p.FreePage(b)
	p.FreePage(a)
	// most-recently-freed is allocated next
	if got := p.AllocPage(); got != a {
		t.Fatalf("expected %#x, got %#x", a, got)
	}
	if got := p.AllocPage(); got != b {
		t.Fatalf("expected %#x, got %#x", b, got)
	}
}

func TestPoolConservation(t *testing.T) {
	const n = 16
	p, _ := mkTestPool(n)
	before := poolFrames(p)
	var got []Pa_t
	for i := 0; i < 10; i++ {
		got = append(got, p.AllocPage())
	}
	for _, pa := range got {
		p.FreePage(pa)
	}
	after := poolFrames(p)
	if len(before) != n || len(after) != n {
		t.Fatalf("lost frames: %v before, %v after", len(before), len(after))
	}
	bm := make(map[Pa_t]int)
	for _, pa := range before {
		bm[pa]++
	}
	for _, pa := range after {
		bm[pa]--
	}
	for pa, c := range bm {
		if c != 0 {
			t.Fatalf("frame %#x count off by %v", pa, c)
		}
	}
}

func TestPoolZeroesOnAlloc(t *testing.T) {
	p, mp := mkTestPool(2)
	pa := p.AllocPage()
	pg := mp.Dmap(pa)
	for i := range pg {
		pg[i] = 0xff
	}
	p.FreePage(pa)
	pa2 := p.AllocPage()
	pg2 := mp.Dmap(pa2)
	for i, v := range pg2 {
		if v != 0 {
			t.Fatalf("byte %v of fresh frame is %#x", i, v)
		}
	}
}

// walk the free list directly
func poolFrames(p *Pool_t) []Pa_t {
	var ret []Pa_t
	for pa := p.free; pa != 0; pa = *p.nextof(pa) {
		ret = append(ret, pa)
	}
	return ret
}
