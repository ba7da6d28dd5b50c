package faultwatch

import (
	"fmt"
	"io"
	"runtime/pprof"
)

// DumpBacktrace writes the stack of the calling goroutine to w.
//
// Unlike the fault handler and the watchdog, this is an ordinary function: it allocates, and w may
// be anything.
func DumpBacktrace(w io.Writer) error {
	st := CaptureStack(1)
	if _, err := io.WriteString(w, st.String()); err != nil {
		return fmt.Errorf("writing backtrace: %w", err)
	}
	return nil
}

// DumpBacktraceThreads writes the stacks of all goroutines to w, in the same format the runtime
// uses for an unrecovered panic.
//
// Other goroutines keep running while the dump is taken; stacks of goroutines that were busy at
// the time may be slightly out of date by the time they're printed.
func DumpBacktraceThreads(w io.Writer) error {
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		return fmt.Errorf("writing goroutine dump: %w", err)
	}
	return nil
}
