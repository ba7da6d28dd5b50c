package faultwatch

// The fire routine runs on the signal path: no allocation, no locks, no logging, raw writes only.

import (
	"github.com/sharnoff/faultwatch/internal/sigsafe"
)

func (w *watchdogTimer) loop(clock alarmClock, stop <-chan struct{}) {
	for {
		select {
		case <-clock.C():
			w.fire(clock)
		case t := <-w.retire:
			t.close()
		case <-stop:
			return
		}
	}
}

func (w *watchdogTimer) fire(clock alarmClock) {
	cfg := w.cfg.Load()
	if cfg == nil {
		// canceled after the timer expired
		return
	}

	out := sigsafe.NewWriter(cfg.target.fd)
	ok := true
	if cfg.allThreads {
		if !cfg.provider.Attached() {
			// Nothing to report from here. This counts as a skipped tick rather than a failure,
			// so a repeating watchdog keeps going.
			watchdogSkippedTotal.Inc()
		} else {
			_, _ = out.WriteString(cfg.header)
			ok = writeStacks(out, cfg.provider, cfg.buf, true)
			if ok {
				watchdogFiresTotal.Inc()
			} else {
				dumpErrorsTotal.Inc()
			}
		}
	} else {
		_, _ = out.WriteString(cfg.header)
		writeWatchedGoroutine(out, cfg)
		watchdogFiresTotal.Inc()
	}

	// left is the configuration the clock is set up for after this fire.
	left := cfg
	if ok && cfg.repeat {
		_ = clock.Arm(cfg.delay)
	} else if w.cfg.CompareAndSwap(cfg, nil) {
		_ = clock.Disarm()
		cfg.target.close()
		left = nil
	} else {
		// replaced or canceled in the meantime; the clock belongs to whoever did that
		return
	}

	// If an arm or cancel raced with us, our Arm/Disarm above may have overwritten theirs. Put
	// back whatever the latest configuration asks for.
	if latest := w.cfg.Load(); latest != left {
		if latest == nil {
			_ = clock.Disarm()
		} else {
			_ = clock.Arm(latest.delay)
		}
	}
}

// writeWatchedGoroutine dumps the goroutine that armed the watchdog. Provider failures only mean
// nothing gets written; the single-goroutine dump never stops a repeating watchdog.
func writeWatchedGoroutine(out sigsafe.Writer, cfg *watchdogConfig) {
	n, err := cfg.provider.Stack(cfg.buf, true)
	if err != nil {
		dumpErrorsTotal.Inc()
		return
	}

	block := sigsafe.GoroutineBlock(cfg.buf[:n], cfg.goroutine)
	if block == nil {
		_, _ = out.WriteString("goroutine ")
		_, _ = out.WriteUint(cfg.goroutine)
		_, _ = out.WriteString(" has exited\n\n")
		return
	}
	_, _ = out.Write(block)
	if n == len(cfg.buf) && &block[len(block)-1] == &cfg.buf[n-1] {
		_, _ = out.WriteString("\n...additional frames elided...\n")
	}
	_, _ = out.WriteString("\n")
}
