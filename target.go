package faultwatch

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errNoOutput = errors.New("no output file")

// outputTarget is a diagnostic destination resolved ahead of time, so that nothing needs to be
// looked up while a signal is being handled.
type outputTarget struct {
	file *os.File
	fd   int
}

var noTarget = outputTarget{fd: -1}

// resolveTarget duplicates the descriptor behind f and checks that it's open for writing.
//
// The duplicate belongs to the returned target and must be released with close; the caller keeps
// ownership of f.
func resolveTarget(f *os.File) (outputTarget, error) {
	if f == nil {
		return noTarget, &ResourceError{Op: "resolve output", Err: errNoOutput}
	}

	raw, err := f.SyscallConn()
	if err != nil {
		return noTarget, &ResourceError{Op: "resolve output", Err: err}
	}

	dup := -1
	var opErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		flags, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
		if err != nil {
			opErr = &ResourceError{Op: "fcntl F_GETFL", Err: err}
			return
		}
		if flags&unix.O_ACCMODE == unix.O_RDONLY {
			opErr = &ResourceError{Op: "resolve output", Err: unix.EBADF}
			return
		}

		dup, err = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			opErr = &ResourceError{Op: "dup output", Err: err}
		}
	})
	if ctrlErr != nil {
		return noTarget, &ResourceError{Op: "resolve output", Err: ctrlErr}
	} else if opErr != nil {
		return noTarget, opErr
	}

	return outputTarget{file: f, fd: dup}, nil
}

// isStderr reports whether the target was resolved from the process's standard error.
func (t outputTarget) isStderr() bool {
	return t.file == os.Stderr
}

func (t *outputTarget) close() {
	if t.fd >= 0 {
		_ = unix.Close(t.fd)
	}
	*t = noTarget
}
