//go:build !riscv64

package riscv

// Hosted CSR emulation. Lets the VM, file-system, and driver code run
// under go test on the build host; the emulated satp is what the
// address-space tests switch.

var csr struct {
	satp     uintptr
	sstatus  uintptr
	scause   uintptr
	stval    uintptr
	sepc     uintptr
	stvec    uintptr
	sscratch uintptr
	sie      uintptr
	sip      uintptr
	time     uintptr
}

func CsrrSatp() uintptr      { return csr.satp }
func CsrwSatp(v uintptr)     { csr.satp = v }
func CsrrSstatus() uintptr   { return csr.sstatus }
func CsrwSstatus(v uintptr)  { csr.sstatus = v }
func CsrsSstatus(m uintptr)  { csr.sstatus |= m }
func CsrcSstatus(m uintptr)  { csr.sstatus &^= m }
func CsrrScause() uintptr    { return csr.scause }
func CsrrStval() uintptr     { return csr.stval }
func CsrrSepc() uintptr      { return csr.sepc }
func CsrwSepc(v uintptr)     { csr.sepc = v }
func CsrwStvec(v uintptr)    { csr.stvec = v }
func CsrrSscratch() uintptr  { return csr.sscratch }
func CsrwSscratch(v uintptr) { csr.sscratch = v }
func CsrsSie(m uintptr)      { csr.sie |= m }
func CsrcSie(m uintptr)      { csr.sie &^= m }
func CsrrTime() uintptr      { csr.time++; return csr.time }
func CsrcSip(m uintptr)      { csr.sip &^= m }

func SfenceVMA() {}

func Wfi() {}

func SbiSetTimer(stime uintptr) {}

func Fence() {}
