package mem

// Physical and virtual memory layout. The low two gigabytes are MMIO,
// identity-mapped RW. RAM starts at 2 GiB with the kernel image at its
// base, then the heap, then the free page pool. User space lives in
// its own gigabyte-aligned window, stack at the top.

const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT
const PGOFFSET Pa_t = 0xfff
const PGMASK Pa_t = ^PGOFFSET

const MEGA_SIZE uintptr = 1 << 21
const GIGA_SIZE uintptr = 1 << 30

const RAM_START Pa_t = 0x8000_0000
const RAM_SIZE uintptr = 32 << 20
const RAM_END Pa_t = RAM_START + Pa_t(RAM_SIZE)

const USER_START_VMA uintptr = 0xC000_0000
const USER_END_VMA uintptr = 0xE000_0000
const USER_STACK_VMA uintptr = USER_END_VMA

// The heap gets the space between the kernel image and the page pool,
// but never less than this.
const HEAP_INIT_MIN uintptr = 1 << 20

type Pa_t uintptr
type Page_t [PGSIZE]uint8

func Pagenum(pa Pa_t) uintptr       { return uintptr(pa) >> PGSHIFT }
func Pageptr(n uintptr) Pa_t        { return Pa_t(n << PGSHIFT) }
func Pgrounddown(a uintptr) uintptr { return a &^ uintptr(PGOFFSET) }
func Pgroundup(a uintptr) uintptr   { return (a + uintptr(PGOFFSET)) &^ uintptr(PGOFFSET) }
