package faultwatch

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// outputFile creates a file for reports and returns it along with a function that reads back
// everything written to it so far.
func outputFile(t *testing.T) (*os.File, func() string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "report.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	return f, func() string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}
}

// ignoreSignal makes sig ignored for the duration of the test, so that the re-delivery at the end
// of a fault report doesn't kill the test binary.
func ignoreSignal(t *testing.T, sig unix.Signal) {
	t.Helper()

	signal.Ignore(sig)
	t.Cleanup(func() { unignore(sig) })
}

// unignore puts sig back to the runtime's default. signal.Reset alone leaves it marked as ignored.
func unignore(sig unix.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	signal.Stop(ch)
}

func entryFor(sig unix.Signal) FaultEntry {
	for _, e := range Entries() {
		if e.Signal == sig {
			return e
		}
	}
	panic("no entry for " + unix.SignalName(sig))
}

func enableForTest(t *testing.T, opts ...Option) {
	t.Helper()

	require.NoError(t, Enable(opts...))
	t.Cleanup(Disable)
}

func waitForReport(t *testing.T, read func() string, substr string) string {
	t.Helper()

	var out string
	require.Eventually(t, func() bool {
		out = read()
		return strings.Contains(out, substr)
	}, 5*time.Second, 10*time.Millisecond, "report containing %q never appeared", substr)
	return out
}

var errRejected = errors.New("rejected")

// fakeProvider is a Provider with canned behavior.
type fakeProvider struct {
	detached bool
	err      error
	text     string
}

func (p fakeProvider) Stack(buf []byte, all bool) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return copy(buf, p.text), nil
}

func (p fakeProvider) Attached() bool {
	return !p.detached
}
