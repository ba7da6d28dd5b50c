// Package sigsafe holds the output primitives that may be used while a fatal signal is being
// handled.
//
// Nothing in this package allocates, takes a lock, or buffers. Code on the signal path must only
// produce output through a [Writer]; reaching fmt, log/slog, bufio, or an *os.File from there is a
// bug.
package sigsafe

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Writer writes directly to a raw file descriptor with write(2).
//
// The zero value is not usable; a Writer with a negative descriptor silently discards everything.
type Writer struct {
	fd int
}

// NewWriter returns a Writer for fd. The descriptor is not owned by the Writer.
func NewWriter(fd int) Writer {
	return Writer{fd: fd}
}

// Fd returns the descriptor w writes to.
func (w Writer) Fd() int {
	return w.fd
}

// Write writes all of p, retrying on EINTR and short writes.
func (w Writer) Write(p []byte) (int, error) {
	if w.fd < 0 {
		return len(p), nil
	}

	written := 0
	for written < len(p) {
		n, err := unix.Write(w.fd, p[written:])
		if err == unix.EINTR {
			continue
		} else if err != nil {
			return written, err
		} else if n == 0 {
			return written, unix.EIO
		}
		written += n
	}
	return written, nil
}

// WriteString writes s without converting it to a fresh []byte.
func (w Writer) WriteString(s string) (int, error) {
	if len(s) == 0 {
		return 0, nil
	}
	return w.Write(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// WriteUint writes the decimal representation of v.
func (w Writer) WriteUint(v uint64) (int, error) {
	var buf [20]byte
	return w.Write(FormatUint(&buf, v))
}

// FormatUint formats v in decimal into buf, returning the used suffix of buf.
func FormatUint(buf *[20]byte, v uint64) []byte {
	i := len(buf)
	for {
		i -= 1
		buf[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return buf[i:]
}
