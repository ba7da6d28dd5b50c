package faultwatch

import (
	"runtime"

	"github.com/sharnoff/faultwatch/internal/sigsafe"
)

// Provider renders goroutine stacks for the fault path and the watchdog.
//
// Both methods may be called while a fatal signal is being handled, so implementations must not
// allocate or take locks that ordinary code could be holding.
type Provider interface {
	// Stack formats the stack of the calling goroutine into buf, or of every goroutine if all is
	// true, and returns the number of bytes written. The output uses the runtime.Stack layout:
	// one block per goroutine, starting with "goroutine <id> [<status>]:", separated by blank
	// lines.
	Stack(buf []byte, all bool) (int, error)
	// Attached reports whether the calling goroutine is known to the provider. The watchdog
	// skips all-goroutine dumps when it isn't.
	Attached() bool
}

// RuntimeProvider is the default [Provider], backed by [runtime.Stack].
type RuntimeProvider struct{}

func (RuntimeProvider) Stack(buf []byte, all bool) (int, error) {
	return runtime.Stack(buf, all), nil
}

func (RuntimeProvider) Attached() bool {
	return true
}

// currentGoroutineID parses the id of the calling goroutine out of its stack header.
//
// This is only for ordinary code paths (arming the watchdog); it's not worth the cost anywhere
// hot.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}

	var id uint64
	for _, c := range b[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// writeStacks asks p for stacks into buf and writes them raw to w. It returns false if the provider
// failed, in which case nothing is written.
func writeStacks(w sigsafe.Writer, p Provider, buf []byte, all bool) bool {
	n, err := p.Stack(buf, all)
	if err != nil {
		return false
	}
	writeTruncated(w, buf, n)
	return true
}

func writeTruncated(w sigsafe.Writer, buf []byte, n int) {
	_, _ = w.Write(buf[:n])
	if n == len(buf) {
		_, _ = w.WriteString("\n...additional frames elided...\n")
	}
	_, _ = w.WriteString("\n")
}
