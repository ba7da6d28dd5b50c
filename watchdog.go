package faultwatch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// alarmClock is the OS timer behind the watchdog. Expiries arrive on C.
//
// Arm and Disarm are also called from the signal path, so implementations must keep them to plain
// system calls.
type alarmClock interface {
	// Install claims the timer's signal for the watchdog. Only called from ordinary code.
	Install() error
	// Arm schedules a single expiry after d, replacing any pending one.
	Arm(d time.Duration) error
	// Disarm cancels any pending expiry.
	Disarm() error
	C() <-chan os.Signal
	// Close disarms and releases the timer's signal.
	Close()
}

// watchdogConfig is immutable once published. A new one is created on every arm, and the fire
// routine compares pointers to detect that an arm or cancel happened while it was running.
type watchdogConfig struct {
	target     outputTarget
	delay      time.Duration
	repeat     bool
	allThreads bool
	provider   Provider
	buf        []byte
	// goroutine is the id of the goroutine that armed the watchdog; it's the one dumped when
	// allThreads is false.
	goroutine uint64
	header    string
}

type watchdogTimer struct {
	// mu serializes the ordinary paths. The fire routine never takes it.
	mu sync.Mutex

	cfg      atomic.Pointer[watchdogConfig]
	newClock func() (alarmClock, error)
	clock    alarmClock
	// retire hands output targets that were replaced or canceled to the loop, which closes them
	// between fires. A fire may still be writing to the target when it's replaced.
	retire   chan outputTarget
	stop     chan struct{}
	routines *routineGroup

	hookRegistered bool
}

var watchdog = newWatchdogTimer(newSystemClock)

func newWatchdogTimer(newClock func() (alarmClock, error)) *watchdogTimer {
	return &watchdogTimer{
		newClock: newClock,
		retire:   make(chan outputTarget, 8),
		routines: newRoutineGroup("watchdog"),
	}
}

// ArmWatchdog schedules a dump of the calling goroutine's stack after delay, or of every
// goroutine with [WithAllThreads]. With [WithRepeat], the dump happens every delay until
// [CancelWatchdog] is called or a dump fails.
//
// A non-positive delay returns a [*ValidationError] wrapping [ErrInvalidDelay], and leaves any
// previously armed watchdog untouched. Failure to resolve the output or to set up the timer
// returns a [*ResourceError].
//
// Arming again replaces the previous configuration.
func ArmWatchdog(delay time.Duration, opts ...WatchdogOption) error {
	return watchdog.arm(delay, applyWatchdogOptions(opts))
}

// CancelWatchdog cancels the pending watchdog, if there is one. A dump that has already started is
// not interrupted.
func CancelWatchdog() {
	watchdog.cancel()
}

// WatchdogArmed reports whether the watchdog is armed.
func WatchdogArmed() bool {
	return watchdog.cfg.Load() != nil
}

func (w *watchdogTimer) arm(delay time.Duration, o watchdogOptions) error {
	if delay <= 0 {
		return &ValidationError{Field: "delay", Err: ErrInvalidDelay}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	target, err := resolveTarget(o.output)
	if err != nil {
		return err
	}

	if err := w.startLocked(); err != nil {
		target.close()
		return err
	}
	if err := w.clock.Install(); err != nil {
		target.close()
		return &ResourceError{Op: "install watchdog handler", Err: err}
	}

	old := w.cfg.Load()
	var buf []byte
	if old != nil && len(old.buf) >= o.bufSize {
		// fires are serialized on the loop, so the old and new config can share it
		buf = old.buf[:o.bufSize]
	} else {
		buf = make([]byte, o.bufSize)
	}

	cfg := &watchdogConfig{
		target:     target,
		delay:      delay,
		repeat:     o.repeat,
		allThreads: o.allThreads,
		provider:   o.provider,
		buf:        buf,
		goroutine:  currentGoroutineID(),
		header:     fmt.Sprintf("Timeout (%s)!\n", delay),
	}

	if prev := w.cfg.Swap(cfg); prev != nil {
		w.retire <- prev.target
	}

	if err := w.clock.Arm(delay); err != nil {
		if w.cfg.CompareAndSwap(cfg, nil) {
			w.retire <- cfg.target
		}
		return &ResourceError{Op: "arm watchdog timer", Err: err}
	}

	logger().Debug("watchdog armed",
		"delay", delay, "repeat", o.repeat, "allThreads", o.allThreads, "goroutine", cfg.goroutine)
	return nil
}

// startLocked creates the timer and starts the fire loop, if that hasn't happened yet.
func (w *watchdogTimer) startLocked() error {
	if w.clock != nil {
		return nil
	}

	clock, err := w.newClock()
	if err != nil {
		return &ResourceError{Op: "create watchdog timer", Err: err}
	}
	w.clock = clock
	w.stop = make(chan struct{})

	stop := w.stop
	w.routines.Go("watchdog", func() {
		w.loop(clock, stop)
	})

	if !w.hookRegistered {
		AtExit(w.shutdown)
		w.hookRegistered = true
	}
	return nil
}

func (w *watchdogTimer) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelLocked()
}

func (w *watchdogTimer) cancelLocked() {
	old := w.cfg.Swap(nil)
	if w.clock != nil {
		_ = w.clock.Disarm()
	}
	if old != nil {
		w.retire <- old.target
		logger().Debug("watchdog canceled")
	}
}

// shutdown cancels the watchdog, stops the fire loop and releases the timer. The watchdog can be
// armed again afterwards.
//
// If ctx is done before the loop exits, the timer is released anyway and the error is returned.
// Retired outputs then stay open for the next loop to close, since a fire may still be using one.
func (w *watchdogTimer) shutdown(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancelLocked()
	if w.clock == nil {
		return nil
	}

	signalStop(w.stop)
	var waitErr error
	if !w.routines.Finished() {
		waitErr = w.routines.TryWait(ctx)
	}
	w.clock.Close()
	w.clock = nil

	if waitErr != nil {
		w.hookRegistered = false
		logger().Warn("watchdog loop did not stop", "routines", w.routines.Tasks(), "error", waitErr)
		return fmt.Errorf("waiting for watchdog loop: %w", waitErr)
	}

	for {
		select {
		case t := <-w.retire:
			t.close()
		default:
			w.hookRegistered = false
			return nil
		}
	}
}
