package fdops

import "osprey/defs"

// Iolit_t is the in-memory literal: the four-method interface over a
// host buffer. Backs memory-mounted file systems and test harnesses.
type Iolit_t struct {
	buf  []uint8
	size int
	pos  int
}

func MkIolit(buf []uint8) *Iolit_t {
	return &Iolit_t{buf: buf, size: len(buf)}
}

func (lit *Iolit_t) Close() defs.Err_t {
	lit.buf = nil
	lit.size = 0
	lit.pos = 0
	return 0
}

func (lit *Iolit_t) Read(dst []uint8) (int, defs.Err_t) {
	if lit.buf == nil {
		return 0, -defs.EIO
	}
	c := copy(dst, lit.buf[lit.pos:lit.size])
	lit.pos += c
	return c, 0
}

func (lit *Iolit_t) Write(src []uint8) (int, defs.Err_t) {
	if lit.buf == nil {
		return 0, -defs.EIO
	}
	c := copy(lit.buf[lit.pos:lit.size], src)
	lit.pos += c
	return c, 0
}

func (lit *Iolit_t) Ioctl(cmd int, arg *uint64) defs.Err_t {
	if arg == nil {
		return -defs.EINVAL
	}
	switch cmd {
	case IOCTL_GETLEN:
		*arg = uint64(lit.size)
	case IOCTL_SETLEN:
		if int(*arg) > len(lit.buf) {
			return -defs.EINVAL
		}
		lit.size = int(*arg)
	case IOCTL_GETPOS:
		*arg = uint64(lit.pos)
	case IOCTL_SETPOS:
		if *arg > uint64(lit.size) {
			return -defs.EINVAL
		}
		lit.pos = int(*arg)
	default:
		return -defs.ENOTSUP
	}
	return 0
}
