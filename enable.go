package faultwatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// faultHandler is the process-wide fault handling state. All access goes through Enable, Disable,
// and friends; the dispatch goroutines only read it.
type faultHandler struct {
	// mu serializes the ordinary (non-signal) paths. The signal path never takes it.
	mu sync.Mutex

	enabled  atomic.Bool
	table    handlerTable
	region   altRegion
	target   outputTarget
	provider Provider

	stop           chan struct{}
	routines       *routineGroup
	crashOutput    bool
	hookRegistered bool
}

var faults = &faultHandler{
	target:   noTarget,
	routines: newRoutineGroup("faults"),
}

func init() {
	faults.table.populate()
}

// Enable installs the fatal fault handler for SIGBUS, SIGILL, SIGFPE, and SIGSEGV.
//
// Calling Enable while already enabled does nothing, and the options are ignored. If the output
// can't be resolved, Enable returns a [*ResourceError] and nothing changes. Failure to map the
// alternate region or to install the handler for an individual signal is tolerated: the handler
// runs in degraded mode, or that one signal is left alone.
//
// Enable also registers a teardown hook with [AtExit].
func Enable(opts ...Option) error {
	return faults.enable(applyOptions(opts))
}

// Disable restores, for every signal the handler was installed for, the disposition it had before
// Enable. It does nothing if the handler isn't enabled.
func Disable() {
	faults.disable()
}

// IsEnabled reports whether the fault handler is enabled.
func IsEnabled() bool {
	return faults.enabled.Load()
}

// Entries returns a snapshot of the handler table.
func Entries() []FaultEntry {
	faults.mu.Lock()
	defer faults.mu.Unlock()

	return faults.table.snapshot()
}

// BackgroundRoutines returns the goroutines currently running on behalf of the fault handler and
// the watchdog.
func BackgroundRoutines() []RoutineInfo {
	return append(faults.routines.Tasks(), watchdog.routines.Tasks()...)
}

func (h *faultHandler) enable(o Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.enabled.Load() {
		return nil
	}

	target, err := resolveTarget(o.Output)
	if err != nil {
		return err
	}

	if err := h.region.alloc(o.AltStackSize); err != nil {
		logger().Warn("could not map alternate region, fault reports will be truncated",
			"size", o.AltStackSize, "fallbackSize", fallbackRegionSize, "error", err)
	} else if h.region.size() != o.AltStackSize {
		logger().Debug("keeping previously mapped alternate region",
			"size", h.region.size(), "requested", o.AltStackSize)
	}

	h.target = target
	h.provider = o.Provider
	h.table.populate()

	stop := make(chan struct{})
	installed := 0
	for i := range h.table {
		e := &h.table[i]
		e.previous = captureDisposition(e.signal)
		if err := e.install(); err != nil {
			logger().Warn("could not install fault handler",
				"signal", unix.SignalName(e.signal), "error", err)
			continue
		}
		installed += 1
		h.routines.Go("fault:"+unix.SignalName(e.signal), func() {
			h.dispatch(e, stop)
		})
	}
	h.stop = stop

	// Faults raised by Go code itself turn into runtime panics and never reach the table. Mirror
	// the runtime's own fatal output to the same place, unless that's already stderr.
	if !target.isStderr() {
		if err := debug.SetCrashOutput(o.Output, debug.CrashOptions{}); err != nil {
			logger().Warn("could not mirror runtime crash output", "error", err)
		} else {
			h.crashOutput = true
		}
	}

	if !h.hookRegistered {
		AtExit(h.unload)
		h.hookRegistered = true
	}

	h.enabled.Store(true)
	logger().Debug("fault handler enabled",
		"installed", installed, "regionMapped", h.region.mapped, "output", o.Output.Name())
	return nil
}

func (h *faultHandler) disable() {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = h.disableLocked(context.Background())
}

// disableLocked restores every entry and waits for the dispatchers to exit. If ctx is done first,
// the handler is still disabled but the output and the alternate region are left alone, since a
// dispatcher may still be writing a report with them.
func (h *faultHandler) disableLocked(ctx context.Context) error {
	if !h.enabled.Load() {
		return nil
	}

	for i := range h.table {
		h.table[i].restore()
	}

	// Dispatchers that are mid-report finish before the output goes away.
	signalStop(h.stop)
	var waitErr error
	if !h.routines.Finished() {
		waitErr = h.routines.TryWait(ctx)
	}

	if h.crashOutput {
		if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
			logger().Warn("could not reset runtime crash output", "error", err)
		}
		h.crashOutput = false
	}

	h.enabled.Store(false)
	if waitErr != nil {
		logger().Warn("fault dispatchers did not stop", "routines", h.routines.Tasks(), "error", waitErr)
		return fmt.Errorf("waiting for fault dispatchers: %w", waitErr)
	}

	h.target.close()
	h.provider = nil
	logger().Debug("fault handler disabled")
	return nil
}

// unload is the exit hook registered by Enable: it cancels the watchdog, disables the handler, and
// releases the alternate region.
func (h *faultHandler) unload(ctx context.Context) error {
	var result *multierror.Error
	if err := watchdog.shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.hookRegistered = false
	if err := h.disableLocked(ctx); err != nil {
		return multierror.Append(result, err).ErrorOrNil()
	}
	if err := h.region.free(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
