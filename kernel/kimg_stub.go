//go:build !riscv64

package main

import "osprey/mem"

// Hosted stand-ins for the linker symbols.

func kimgTextStart() uintptr   { return uintptr(mem.RAM_START) }
func kimgTextEnd() uintptr     { return uintptr(mem.RAM_START) + 0x40000 }
func kimgRodataStart() uintptr { return uintptr(mem.RAM_START) + 0x40000 }
func kimgRodataEnd() uintptr   { return uintptr(mem.RAM_START) + 0x60000 }
func kimgDataStart() uintptr   { return uintptr(mem.RAM_START) + 0x60000 }
func kimgEnd() uintptr         { return uintptr(mem.RAM_START) + 0x80000 }
