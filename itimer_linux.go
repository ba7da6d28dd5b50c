//go:build linux

package faultwatch

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"
)

// itimerClock drives the watchdog with the process's real-time interval timer (ITIMER_REAL),
// which delivers SIGALRM on expiry.
type itimerClock struct {
	ch        chan os.Signal
	installed bool
}

func newSystemClock() (alarmClock, error) {
	return &itimerClock{ch: make(chan os.Signal, 1)}, nil
}

// Install takes SIGALRM over: any other subscriber is dropped, not chained. Only the first call
// drops them; later calls keep the subscription, so a pending expiry is never left to the default
// disposition.
func (c *itimerClock) Install() error {
	if !c.installed {
		signal.Reset(unix.SIGALRM)
		c.installed = true
	}
	signal.Notify(c.ch, unix.SIGALRM)
	return nil
}

func (c *itimerClock) Arm(d time.Duration) error {
	_, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{Value: unix.NsecToTimeval(d.Nanoseconds())})
	return err
}

func (c *itimerClock) Disarm() error {
	_, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{})
	return err
}

func (c *itimerClock) C() <-chan os.Signal {
	return c.ch
}

func (c *itimerClock) Close() {
	_ = c.Disarm()
	signal.Stop(c.ch)
}
