package console

import "fmt"

import "osprey/defs"
import "osprey/fdops"

// Term_t wraps a raw capability (the UART, in practice) with CRLF
// normalization in both directions and line editing. One bit of state
// per direction:
//
// input, cr_in clear:  \r yields \n and sets cr_in; else pass.
// input, cr_in set:    \r yields \n; \n is dropped, clearing cr_in;
//
//	else pass, clearing cr_in.
//
// output, cr_out clear: \r or \n emit \r\n; \r sets cr_out.
// output, cr_out set:   \r emits \r\n; \n is dropped, clearing
//
//	cr_out; else pass, clearing cr_out.
type Term_t struct {
	rawio fdops.Io_i
	crIn  bool
	crOut bool
}

func MkTerm(rawio fdops.Io_i) *Term_t {
	return &Term_t{rawio: rawio}
}

func (t *Term_t) Close() defs.Err_t {
	return t.rawio.Close()
}

func (t *Term_t) Read(dst []uint8) (int, defs.Err_t) {
	for {
		cnt, err := t.rawio.Read(dst)
		if err != 0 {
			return 0, err
		}
		wp := 0
		for _, ch := range dst[:cnt] {
			if t.crIn {
				switch ch {
				case '\r':
					dst[wp] = '\n'
					wp++
				case '\n':
					t.crIn = false
				default:
					t.crIn = false
					dst[wp] = ch
					wp++
				}
			} else {
				if ch == '\r' {
					t.crIn = true
					dst[wp] = '\n'
				} else {
					dst[wp] = ch
				}
				wp++
			}
		}
		// a buffer holding a single \n after \r can come up empty;
		// read more rather than returning zero
		if wp > 0 {
			return wp, 0
		}
	}
}

func (t *Term_t) putc(ch uint8) defs.Err_t {
	_, err := fdops.Iowrite(t.rawio, []uint8{ch})
	return err
}

func (t *Term_t) Write(src []uint8) (int, defs.Err_t) {
	acc := 0
	for _, ch := range src {
		switch ch {
		case '\r':
			if err := t.putc('\r'); err != 0 {
				return acc, err
			}
			if err := t.putc('\n'); err != 0 {
				return acc, err
			}
			t.crOut = true
		case '\n':
			if t.crOut {
				t.crOut = false
			} else {
				if err := t.putc('\r'); err != 0 {
					return acc, err
				}
				if err := t.putc('\n'); err != 0 {
					return acc, err
				}
			}
		default:
			t.crOut = false
			if err := t.putc(ch); err != 0 {
				return acc, err
			}
		}
		acc++
	}
	return acc, 0
}

// Ioctl passes through, except seeking: the terminal keeps line state
// and cannot reposition.
func (t *Term_t) Ioctl(cmd int, arg *uint64) defs.Err_t {
	if cmd == fdops.IOCTL_SETPOS {
		return -defs.ENOTSUP
	}
	return t.rawio.Ioctl(cmd, arg)
}

// Getsn reads an edited line of at most n-1 bytes: backspace and
// delete rub out, the line ends at CR or LF.
func (t *Term_t) Getsn(n int) (string, defs.Err_t) {
	line := make([]uint8, 0, n)
	ch := make([]uint8, 1)
	for {
		cnt, err := t.Read(ch)
		if err != 0 {
			return "", err
		}
		if cnt == 0 {
			continue
		}
		switch ch[0] {
		case '\n':
			t.putc('\r')
			t.putc('\n')
			return string(line), 0
		case '\b', 0x7f:
			if len(line) > 0 {
				line = line[:len(line)-1]
				t.putc('\b')
				t.putc(' ')
				t.putc('\b')
			} else {
				t.putc('\a')
			}
		default:
			if len(line) < n-1 {
				line = append(line, ch[0])
				t.putc(ch[0])
			} else {
				t.putc('\a')
			}
		}
	}
}

// Kterm is the boot console; nil until the kernel attaches the UART.
var Kterm *Term_t

// Printf formats onto the boot console, falling back to the host
// stdout when no console is attached (hosted harnesses).
func Printf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	if Kterm == nil {
		fmt.Print(s)
		return
	}
	Kterm.Write([]uint8(s))
}
