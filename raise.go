package faultwatch

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// The Raise functions deliberately deliver a fatal signal to the process, to check that the fault
// handler intercepts it. Unless the signal was ignored before Enable, the process dies once the
// handler has reported it.
//
// The signal is sent with kill(2), so the runtime sees it as coming from outside, the same way it
// would see a fault raised by another process or by C code calling raise(3).

// RaiseSEGV sends SIGSEGV to the process. With fromOtherGoroutine, it's sent from a fresh goroutine
// instead of the caller, so delivery doesn't depend on which thread the caller runs on.
func RaiseSEGV(fromOtherGoroutine bool) error {
	if !fromOtherGoroutine {
		return raise(unix.SIGSEGV)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- raise(unix.SIGSEGV)
	}()
	return <-errCh
}

// RaiseFPE sends SIGFPE to the process.
func RaiseFPE() error {
	return raise(unix.SIGFPE)
}

// RaiseBUS sends SIGBUS to the process.
func RaiseBUS() error {
	return raise(unix.SIGBUS)
}

// RaiseILL sends SIGILL to the process.
func RaiseILL() error {
	return raise(unix.SIGILL)
}

func raise(sig unix.Signal) error {
	if err := unix.Kill(os.Getpid(), sig); err != nil {
		return fmt.Errorf("raising %s: %w", unix.SignalName(sig), err)
	}
	return nil
}
