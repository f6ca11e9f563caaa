package device

import "osprey/defs"
import "osprey/fdops"

// Name+instance device registry. Drivers register an open function at
// attach time; the devopen syscall resolves through here.

const ndev = 16

type dev_t struct {
	name   string
	instno int
	opener func(aux interface{}) (fdops.Io_i, defs.Err_t)
	aux    interface{}
}

var devtab [ndev]dev_t
var ndevs int

// Register adds a device under name; instances of the same name count
// up from zero in registration order.
func Register(name string, opener func(interface{}) (fdops.Io_i, defs.Err_t), aux interface{}) int {
	if ndevs >= ndev {
		panic("device table full")
	}
	instno := 0
	for i := 0; i < ndevs; i++ {
		if devtab[i].name == name {
			instno++
		}
	}
	devtab[ndevs] = dev_t{name: name, instno: instno, opener: opener, aux: aux}
	ndevs++
	return instno
}

// Open resolves name/instno and opens the device.
func Open(name string, instno int) (fdops.Io_i, defs.Err_t) {
	for i := 0; i < ndevs; i++ {
		d := &devtab[i]
		if d.name == name && d.instno == instno {
			return d.opener(d.aux)
		}
	}
	return nil, -defs.ENOENT
}

// Reset empties the registry; hosted harnesses re-register between
// runs.
func Reset() {
	ndevs = 0
}
