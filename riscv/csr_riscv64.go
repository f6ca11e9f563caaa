//go:build riscv64

package riscv

// CSR accessors. Implemented in csr_riscv64.s with WORD-encoded csr
// instructions; the Go assembler has no csr mnemonics.

func CsrrSatp() uintptr
func CsrwSatp(v uintptr)
func CsrrSstatus() uintptr
func CsrwSstatus(v uintptr)
func CsrsSstatus(mask uintptr)
func CsrcSstatus(mask uintptr)
func CsrrScause() uintptr
func CsrrStval() uintptr
func CsrrSepc() uintptr
func CsrwSepc(v uintptr)
func CsrwStvec(v uintptr)
func CsrrSscratch() uintptr
func CsrwSscratch(v uintptr)
func CsrsSie(mask uintptr)
func CsrcSie(mask uintptr)
func CsrrTime() uintptr
func CsrcSip(mask uintptr)

// SfenceVMA drains pending page-table updates and flushes the TLB.
// Kernel-half entries are G and survive space switches.
func SfenceVMA()

// Wfi idles the hart until the next interrupt.
func Wfi()

// SbiSetTimer programs the next timer interrupt through the SBI TIME
// extension.
func SbiSetTimer(stime uintptr)

// Fence orders memory accesses against device DMA; the ring protocol
// publishes descriptors with it.
func Fence()
