//go:build unix && !linux

package faultwatch

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// runtimeClock stands in for ITIMER_REAL where x/sys doesn't expose setitimer. Expiry is reported
// as SIGALRM so the watchdog loop is the same on every platform.
type runtimeClock struct {
	ch    chan os.Signal
	timer *time.Timer
}

func newSystemClock() (alarmClock, error) {
	c := &runtimeClock{ch: make(chan os.Signal, 1)}
	c.timer = time.AfterFunc(time.Hour, func() {
		select {
		case c.ch <- unix.SIGALRM:
		default:
		}
	})
	c.timer.Stop()
	return c, nil
}

func (c *runtimeClock) Install() error {
	return nil
}

func (c *runtimeClock) Arm(d time.Duration) error {
	c.timer.Reset(d)
	return nil
}

func (c *runtimeClock) Disarm() error {
	c.timer.Stop()
	return nil
}

func (c *runtimeClock) C() <-chan os.Signal {
	return c.ch
}

func (c *runtimeClock) Close() {
	c.timer.Stop()
}
