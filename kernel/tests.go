package main

import "osprey/console"
import "osprey/fdops"
import "osprey/fs"
import "osprey/thread"
import "osprey/timer"

// Boot-time self-tests, run before init when selftest is on. These
// exercise the paths the hosted tests cannot: real context switches,
// the live block device, timer wakeups.

const selftest = false

func runSelftests(fsys *fs.Fs_t) {
	console.Printf("selftest: locks\n")
	testLocks()
	console.Printf("selftest: alarm\n")
	testAlarm()
	console.Printf("selftest: fs\n")
	testFs(fsys)
	console.Printf("selftest: done\n")
}

// two threads race a counter under a sleep lock; the total must come
// out exact or mutual exclusion is broken
func testLocks() {
	const iters = 10000
	var lk thread.Lock_t
	lk.Init("selftest")
	counter := 0

	worker := func() {
		for i := 0; i < iters; i++ {
			lk.Acquire()
			counter++
			lk.Release()
		}
	}
	t1, err := thread.Spawn("locktest1", worker)
	if err != 0 {
		panic("spawn failed")
	}
	t2, err := thread.Spawn("locktest2", worker)
	if err != 0 {
		panic("spawn failed")
	}
	thread.Join(t1)
	thread.Join(t2)
	if counter != 2*iters {
		console.Printf("selftest: counter %v, want %v\n", counter, 2*iters)
		panic("lost updates under lock")
	}
}

func testAlarm() {
	var al timer.Alarm_t
	al.Init("selftest")
	al.Sleep(timer.FREQ / 100)
}

// write a pattern through a file's first block and read it back; only
// runs when the disk carries a scratch file
func testFs(fsys *fs.Fs_t) {
	io, err := fsys.Open("scratch")
	if err != 0 {
		console.Printf("selftest: no scratch file, skipping fs test\n")
		return
	}
	defer io.Close()

	var blksz uint64
	if err := io.Ioctl(fdops.IOCTL_GETBLKSZ, &blksz); err != 0 {
		panic("getblksz failed")
	}
	src := make([]uint8, blksz)
	for i := range src {
		src[i] = uint8(i*7 + 3)
	}
	if n, err := io.Write(src); err != 0 || n != len(src) {
		panic("selftest write failed")
	}
	if err := fdops.Ioseek(io, 0); err != 0 {
		panic("selftest seek failed")
	}
	dst := make([]uint8, blksz)
	if n, err := io.Read(dst); err != 0 || n != len(dst) {
		panic("selftest read failed")
	}
	for i := range dst {
		if dst[i] != src[i] {
			console.Printf("selftest: byte %v differs\n", i)
			panic("fs round trip failed")
		}
	}
}
