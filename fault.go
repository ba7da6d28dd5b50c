package faultwatch

// Everything in this file runs on the signal path. It must not allocate, take locks, log, or use
// buffered output; the only output primitive is sigsafe.Writer.

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/sharnoff/faultwatch/internal/sigsafe"
)

// dispatch waits for the entry's signal, handling at most one delivery. After that the entry is
// restored to its previous disposition, so further deliveries never reach us.
func (h *faultHandler) dispatch(e *faultEntry, stop <-chan struct{}) {
	select {
	case sig := <-e.ch:
		if s, ok := sig.(unix.Signal); ok {
			h.handleFault(s)
		}
	case <-stop:
	}
}

// handleFault reports a fatal fault and re-delivers it.
//
// The previous disposition is restored before anything is written, so that if writing the report
// faults too, the previous disposition handles it instead of us.
func (h *faultHandler) handleFault(sig unix.Signal) {
	e := h.table.lookup(sig)
	e.restore()

	w := sigsafe.NewWriter(h.target.fd)
	_, _ = w.WriteString("Fatal error: ")
	_, _ = w.WriteString(e.name)
	_, _ = w.WriteString("\n\n")

	// A process-directed signal has no "current" goroutine, so report all of them, as the runtime
	// does with GOTRACEBACK=all.
	if !writeStacks(w, h.provider, h.region.bytes(), true) {
		dumpErrorsTotal.Inc()
	}
	faultsTotal.Inc()

	reraise(e.signal)
}

// reraise delivers sig to the process again, now under the restored disposition. With the
// runtime's default disposition this ends the process the same way it would have ended without us.
func reraise(sig unix.Signal) {
	_ = unix.Kill(os.Getpid(), sig)
}
