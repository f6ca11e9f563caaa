package mem

import "unsafe"

// Small-object allocator carved from the bounded region between the
// kernel image and the page pool. First-fit over a singly-linked free
// list with headers threaded through the managed region, split on
// alloc, coalesce with both neighbours on free. The virtio driver draws its DMA
// memory (rings, request headers, block buffers) from here, so blocks
// are physically contiguous by construction.

const heapAlign = 16
const hdrSize = Pa_t(16)

// block header: {size of payload, pa of next free block or 0}
type heapHdr struct {
	size Pa_t
	next Pa_t
}

type Heap_t struct {
	phys  Phys_i
	start Pa_t
	end   Pa_t
	free  Pa_t
}

func (h *Heap_t) hdrat(pa Pa_t) *heapHdr {
	b := h.phys.Dmaplen(pa, int(hdrSize))
	return (*heapHdr)(unsafe.Pointer(&b[0]))
}

func MkHeap(phys Phys_i, start, end Pa_t) *Heap_t {
	if start%heapAlign != 0 || end <= start+hdrSize {
		panic("bad heap region")
	}
	h := &Heap_t{phys: phys, start: start, end: end}
	first := h.hdrat(start)
	first.size = end - start - hdrSize
	first.next = 0
	h.free = start
	return h
}

func roundAlign(n Pa_t) Pa_t {
	return (n + heapAlign - 1) &^ Pa_t(heapAlign-1)
}

// Alloc returns the physical address of an n-byte block, or 0 when the
// region is exhausted. Heap exhaustion, unlike page-pool exhaustion,
// is reported to the caller; the current callers (thread stacks and
// the virtio driver's DMA area) panic on it.
func (h *Heap_t) Alloc(n int) Pa_t {
	if n <= 0 {
		panic("bad alloc size")
	}
	want := roundAlign(Pa_t(n))
	var prev Pa_t
	for pa := h.free; pa != 0; {
		hdr := h.hdrat(pa)
		if hdr.size >= want {
			if hdr.size >= want+hdrSize+heapAlign {
				// split; remainder keeps the tail
				rest := pa + hdrSize + want
				rhdr := h.hdrat(rest)
				rhdr.size = hdr.size - want - hdrSize
				rhdr.next = hdr.next
				hdr.size = want
				h.unlink(prev, rest)
			} else {
				h.unlink(prev, hdr.next)
			}
			return pa + hdrSize
		}
		prev = pa
		pa = hdr.next
	}
	return 0
}

func (h *Heap_t) unlink(prev, next Pa_t) {
	if prev == 0 {
		h.free = next
	} else {
		h.hdrat(prev).next = next
	}
}

// Free returns a block from Alloc to the free list, keeping the list
// address-ordered and merging with an adjacent successor and an
// adjacent predecessor.
func (h *Heap_t) Free(pa Pa_t) {
	if pa <= h.start || pa >= h.end {
		panic("free outside heap")
	}
	bpa := pa - hdrSize
	hdr := h.hdrat(bpa)
	var prev Pa_t
	cur := h.free
	for cur != 0 && cur < bpa {
		prev = cur
		cur = h.hdrat(cur).next
	}
	hdr.next = cur
	if prev == 0 {
		h.free = bpa
	} else {
		h.hdrat(prev).next = bpa
	}
	// merge with next block if adjacent
	if cur != 0 && bpa+hdrSize+hdr.size == cur {
		chdr := h.hdrat(cur)
		hdr.size += hdrSize + chdr.size
		hdr.next = chdr.next
	}
	// merge prev into us if adjacent
	if prev != 0 {
		phdr := h.hdrat(prev)
		if prev+hdrSize+phdr.size == bpa {
			phdr.size += hdrSize + hdr.size
			phdr.next = hdr.next
		}
	}
}

// Bytes returns the byte view of an allocated block.
func (h *Heap_t) Bytes(pa Pa_t, n int) []uint8 {
	if pa < h.start || pa+Pa_t(n) > h.end {
		panic("heap block out of range")
	}
	return h.phys.Dmaplen(pa, n)
}

// Kheap is the boot-time heap, initialized alongside Kpool.
var Kheap *Heap_t
