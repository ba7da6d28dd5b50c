package faultwatch

import (
	"os"
	"os/signal"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// faultSignals lists the monitored signals. SIGSEGV must stay last: it's the fallback when a
// delivered signal doesn't match any entry.
var faultSignals = [...]unix.Signal{
	unix.SIGBUS,
	unix.SIGILL,
	unix.SIGFPE,
	unix.SIGSEGV,
}

const numFaultSignals = len(faultSignals)

func faultName(sig unix.Signal) string {
	switch sig {
	case unix.SIGFPE:
		return "Floating point exception"
	case unix.SIGBUS:
		return "Bus error"
	case unix.SIGILL:
		return "Illegal instruction"
	default:
		return "Segmentation fault"
	}
}

// FaultEntry is a snapshot of one row of the handler table, returned by [Entries].
type FaultEntry struct {
	Signal  unix.Signal
	Name    string
	Enabled bool
}

// disposition is what a signal did before we subscribed to it. Each signal's disposition is
// independent; there is no single "default" shared between them.
type disposition struct {
	ignored bool
}

func captureDisposition(sig unix.Signal) disposition {
	return disposition{ignored: signal.Ignored(sig)}
}

type faultEntry struct {
	signal  unix.Signal
	name    string
	enabled atomic.Bool

	previous disposition
	ch       chan os.Signal
}

// installHook is consulted before subscribing to each signal; an error leaves that entry disabled.
// Tests replace it to simulate a rejected installation.
var installHook = func(unix.Signal) error { return nil }

// install subscribes the entry's channel to its signal. The previous disposition must already be
// captured.
func (e *faultEntry) install() error {
	if err := installHook(e.signal); err != nil {
		return err
	}
	e.ch = make(chan os.Signal, 1)
	signal.Notify(e.ch, e.signal)
	e.enabled.Store(true)
	return nil
}

// restore stops relaying the entry's signal to us and puts back the previous disposition. Other
// subscribers of the same signal are left alone. It returns false if the entry was not enabled.
//
// Both the controller and the signal path call restore; clearing the flag first makes sure only
// one of them does the work.
func (e *faultEntry) restore() bool {
	if !e.enabled.CompareAndSwap(true, false) {
		return false
	}
	signal.Stop(e.ch)
	if e.previous.ignored {
		signal.Ignore(e.signal)
	}
	return true
}

func (e *faultEntry) snapshot() FaultEntry {
	return FaultEntry{Signal: e.signal, Name: e.name, Enabled: e.enabled.Load()}
}

// handlerTable is the fixed registry of fault entries.
type handlerTable [numFaultSignals]faultEntry

// lookup returns the entry for sig by linear scan, falling back to the last entry (SIGSEGV).
func (t *handlerTable) lookup(sig unix.Signal) *faultEntry {
	for i := range t {
		if t[i].signal == sig {
			return &t[i]
		}
	}
	return &t[len(t)-1]
}

func (t *handlerTable) populate() {
	for i, sig := range faultSignals {
		t[i].signal = sig
		t[i].name = faultName(sig)
		t[i].enabled.Store(false)
		t[i].ch = nil
	}
}

func (t *handlerTable) snapshot() []FaultEntry {
	entries := make([]FaultEntry, len(t))
	for i := range t {
		entries[i] = t[i].snapshot()
	}
	return entries
}
