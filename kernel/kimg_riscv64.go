//go:build riscv64

package main

// Kernel image region boundaries, from the linker script. Implemented
// in kimg_riscv64.s against the _kimg_* symbols.

func kimgTextStart() uintptr
func kimgTextEnd() uintptr
func kimgRodataStart() uintptr
func kimgRodataEnd() uintptr
func kimgDataStart() uintptr
func kimgEnd() uintptr
