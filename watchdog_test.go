package faultwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeClock is an alarmClock that only expires when told to.
type fakeClock struct {
	ch     chan os.Signal
	armErr error

	mu  sync.Mutex
	log []string
}

func newFakeClock() *fakeClock {
	return &fakeClock{ch: make(chan os.Signal, 1)}
}

func (c *fakeClock) record(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, event)
}

func (c *fakeClock) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

func (c *fakeClock) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n += 1
		}
	}
	return n
}

func (c *fakeClock) Install() error {
	c.record("install")
	return nil
}

func (c *fakeClock) Arm(d time.Duration) error {
	c.record("arm " + d.String())
	return c.armErr
}

func (c *fakeClock) Disarm() error {
	c.record("disarm")
	return nil
}

func (c *fakeClock) C() <-chan os.Signal { return c.ch }

func (c *fakeClock) Close() { c.record("close") }

func (c *fakeClock) expire() { c.ch <- unix.SIGALRM }

func newTestWatchdog(t *testing.T) (*watchdogTimer, *fakeClock) {
	clock := newFakeClock()
	w := newWatchdogTimer(func() (alarmClock, error) { return clock, nil })
	t.Cleanup(func() { require.NoError(t, w.shutdown(context.Background())) })
	return w, clock
}

func watchdogOpts(opts ...WatchdogOption) watchdogOptions {
	return applyWatchdogOptions(opts)
}

func waitForEvent(t *testing.T, clock *fakeClock, event string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return clock.count(event) >= count
	}, 5*time.Second, 10*time.Millisecond, "wanted %d %q events, got %v", count, event, clock.events())
}

func TestWatchdogOneShot(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)
	firesBefore := testutil.ToFloat64(watchdogFiresTotal)

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out))))
	require.Equal(t, []string{"install", "arm 1s"}, clock.events())
	require.NotNil(t, w.cfg.Load())

	clock.expire()
	waitForEvent(t, clock, "disarm", 1)
	require.Nil(t, w.cfg.Load())
	require.Equal(t, firesBefore+1, testutil.ToFloat64(watchdogFiresTotal))

	report := read()
	require.True(t, strings.HasPrefix(report, "Timeout (1s)!\ngoroutine "), report)
	require.Contains(t, report, fmt.Sprintf("goroutine %d [", currentGoroutineID()))
	require.Contains(t, report, "TestWatchdogOneShot")
	require.Equal(t, 1, strings.Count(report, "\ngoroutine "), "only the arming goroutine is dumped")

	// a late expiry after a one-shot fire does nothing
	clock.expire()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, report, read())
	require.Equal(t, []string{"install", "arm 1s", "disarm"}, clock.events())
}

func TestWatchdogRepeatUntilCanceled(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out), WithRepeat())))

	clock.expire()
	waitForEvent(t, clock, "arm 1s", 2)
	clock.expire()
	waitForEvent(t, clock, "arm 1s", 3)
	require.Equal(t, 2, strings.Count(read(), "Timeout (1s)!\n"))
	require.NotNil(t, w.cfg.Load())

	w.cancel()
	require.Nil(t, w.cfg.Load())
	require.Equal(t, "disarm", clock.events()[len(clock.events())-1])

	clock.expire()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, strings.Count(read(), "Timeout (1s)!\n"))
	require.Equal(t, 3, clock.count("arm 1s"))
}

func TestWatchdogAllThreads(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	done := make(chan struct{})
	defer close(done)
	go func() {
		<-done
	}()

	require.NoError(t, w.arm(2*time.Second, watchdogOpts(WithWatchdogOutput(out), WithAllThreads())))
	clock.expire()
	waitForEvent(t, clock, "disarm", 1)

	report := read()
	require.True(t, strings.HasPrefix(report, "Timeout (2s)!\ngoroutine "), report)
	require.Greater(t, strings.Count(report, "\ngoroutine "), 1)
	require.Contains(t, report, "TestWatchdogAllThreads.func")
}

func TestWatchdogSkipsWhenDetached(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)
	skippedBefore := testutil.ToFloat64(watchdogSkippedTotal)

	opts := watchdogOpts(WithWatchdogOutput(out), WithAllThreads(), WithRepeat(),
		WithWatchdogProvider(fakeProvider{detached: true}))
	require.NoError(t, w.arm(time.Second, opts))

	clock.expire()
	waitForEvent(t, clock, "arm 1s", 2)
	clock.expire()
	waitForEvent(t, clock, "arm 1s", 3)

	// nothing written, and the watchdog keeps going
	require.Equal(t, skippedBefore+2, testutil.ToFloat64(watchdogSkippedTotal))
	require.Empty(t, read())
	require.NotNil(t, w.cfg.Load())
}

func TestWatchdogProviderFailureStopsRepeat(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)
	errorsBefore := testutil.ToFloat64(dumpErrorsTotal)

	opts := watchdogOpts(WithWatchdogOutput(out), WithAllThreads(), WithRepeat(),
		WithWatchdogProvider(fakeProvider{err: errRejected}))
	require.NoError(t, w.arm(time.Second, opts))

	clock.expire()
	waitForEvent(t, clock, "disarm", 1)
	require.Nil(t, w.cfg.Load())
	require.Equal(t, errorsBefore+1, testutil.ToFloat64(dumpErrorsTotal))
	require.Equal(t, "Timeout (1s)!\n", read())
	require.Equal(t, 1, clock.count("arm 1s"))
}

func TestWatchdogSingleGoroutineFailureKeepsRepeating(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	opts := watchdogOpts(WithWatchdogOutput(out), WithRepeat(),
		WithWatchdogProvider(fakeProvider{err: errRejected}))
	require.NoError(t, w.arm(time.Second, opts))

	clock.expire()
	waitForEvent(t, clock, "arm 1s", 2)
	require.NotNil(t, w.cfg.Load())
	require.Equal(t, "Timeout (1s)!\n", read())
}

func TestWatchdogTruncatesDump(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	text := "goroutine 7 [running]:\nmain.spin()\n\t/src/main.go:12 +0x1d\n"
	opts := watchdogOpts(WithWatchdogOutput(out), WithAllThreads(),
		WithWatchdogProvider(fakeProvider{text: text}), WithWatchdogBufferSize(16))
	require.NoError(t, w.arm(time.Second, opts))

	clock.expire()
	waitForEvent(t, clock, "disarm", 1)
	require.Equal(t, "Timeout (1s)!\n"+text[:16]+"\n...additional frames elided...\n\n", read())
}

func TestWatchdogArmingGoroutineExited(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	var id uint64
	errCh := make(chan error)
	go func() {
		id = currentGoroutineID()
		errCh <- w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out)))
	}()
	require.NoError(t, <-errCh)

	// the goroutine is gone once it's missing from a full dump
	require.Eventually(t, func() bool {
		buf := make([]byte, 1<<20)
		n, _ := RuntimeProvider{}.Stack(buf, true)
		return !strings.Contains(string(buf[:n]), fmt.Sprintf("goroutine %d [", id))
	}, 5*time.Second, 10*time.Millisecond)

	clock.expire()
	waitForEvent(t, clock, "disarm", 1)
	require.Equal(t, fmt.Sprintf("Timeout (1s)!\ngoroutine %d has exited\n\n", id), read())
}

func TestWatchdogRearmReplaces(t *testing.T) {
	w, clock := newTestWatchdog(t)
	first, readFirst := outputFile(t)
	second, readSecond := outputFile(t)

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(first), WithRepeat())))
	require.NoError(t, w.arm(2*time.Second, watchdogOpts(WithWatchdogOutput(second))))
	require.Equal(t, []string{"install", "arm 1s", "install", "arm 2s"}, clock.events())

	clock.expire()
	waitForEvent(t, clock, "disarm", 1)
	require.Empty(t, readFirst())
	require.True(t, strings.HasPrefix(readSecond(), "Timeout (2s)!\n"))
	require.Nil(t, w.cfg.Load(), "the replacement was one-shot")
}

func TestWatchdogInvalidDelay(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, _ := outputFile(t)

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out))))
	cfg := w.cfg.Load()
	events := clock.events()

	for _, delay := range []time.Duration{0, -5 * time.Second} {
		err := w.arm(delay, watchdogOpts(WithWatchdogOutput(out)))
		var valErr *ValidationError
		require.ErrorAs(t, err, &valErr, "delay %s", delay)
		require.Equal(t, "delay", valErr.Field)
		require.ErrorIs(t, err, ErrInvalidDelay)

		// the previous watchdog is untouched
		require.Same(t, cfg, w.cfg.Load())
		require.Equal(t, events, clock.events())
	}

	err := ArmWatchdog(-time.Millisecond)
	require.ErrorIs(t, err, ErrInvalidDelay)
	require.False(t, WatchdogArmed())
}

func TestWatchdogUnwritableOutput(t *testing.T) {
	w, _ := newTestWatchdog(t)

	path := filepath.Join(t.TempDir(), "readonly.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	readOnly, err := os.Open(path)
	require.NoError(t, err)
	defer readOnly.Close()

	err = w.arm(time.Second, watchdogOpts(WithWatchdogOutput(readOnly)))
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	require.Nil(t, w.cfg.Load())
}

func TestWatchdogArmFailure(t *testing.T) {
	w, clock := newTestWatchdog(t)
	clock.armErr = errRejected
	out, _ := outputFile(t)

	err := w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out)))
	var resErr *ResourceError
	require.ErrorAs(t, err, &resErr)
	require.ErrorIs(t, err, errRejected)
	require.Nil(t, w.cfg.Load())
}

func TestWatchdogCancelWhenIdle(t *testing.T) {
	w, clock := newTestWatchdog(t)

	w.cancel()
	require.Nil(t, w.cfg.Load())
	require.Empty(t, clock.events(), "the timer isn't created just to cancel it")

	CancelWatchdog()
	require.False(t, WatchdogArmed())
}

func TestWatchdogShutdownAndRearm(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out), WithRepeat())))
	require.Equal(t, []RoutineInfo{{Name: "watchdog", Count: 1}}, w.routines.Tasks())

	require.NoError(t, w.shutdown(context.Background()))
	require.Nil(t, w.cfg.Load())
	require.True(t, w.routines.Finished())
	require.Equal(t, "close", clock.events()[len(clock.events())-1])

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out))))
	clock.expire()
	waitForEvent(t, clock, "disarm", 2)
	require.Equal(t, 1, strings.Count(read(), "Timeout (1s)!\n"))
}

func TestWatchdogShutdownGivesUpOnStuckLoop(t *testing.T) {
	w, clock := newTestWatchdog(t)
	out, read := outputFile(t)

	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out), WithRepeat())))

	// a loop that never exits
	w.routines.Add("watchdog:stuck")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, w.cfg.Load())
	require.Equal(t, "close", clock.events()[len(clock.events())-1], "the timer is released anyway")

	w.routines.Done("watchdog:stuck")

	// a fresh loop takes over
	require.NoError(t, w.arm(time.Second, watchdogOpts(WithWatchdogOutput(out))))
	clock.expire()
	waitForEvent(t, clock, "disarm", 2)
	require.Equal(t, 1, strings.Count(read(), "Timeout (1s)!\n"))
}

// The remaining tests use the real interval timer.

// timedProvider records when each dump starts.
type timedProvider struct {
	RuntimeProvider
	dumps chan time.Time
}

func newTimedProvider() timedProvider {
	return timedProvider{dumps: make(chan time.Time, 16)}
}

func (p timedProvider) Stack(buf []byte, all bool) (int, error) {
	select {
	case p.dumps <- time.Now():
	default:
	}
	return p.RuntimeProvider.Stack(buf, all)
}

func (p timedProvider) next(t *testing.T) time.Time {
	t.Helper()
	select {
	case at := <-p.dumps:
		return at
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog never fired")
		return time.Time{}
	}
}

func shutdownRealWatchdog(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, watchdog.shutdown(context.Background())) })
}

func TestArmWatchdogRealTimer(t *testing.T) {
	shutdownRealWatchdog(t)
	out, read := outputFile(t)
	provider := newTimedProvider()

	delay := 50 * time.Millisecond
	start := time.Now()
	require.NoError(t, ArmWatchdog(delay, WithWatchdogOutput(out), WithWatchdogProvider(provider)))
	require.True(t, WatchdogArmed())

	fired := provider.next(t)
	require.GreaterOrEqual(t, fired.Sub(start), delay, "fired before the delay")

	require.Eventually(t, func() bool { return !WatchdogArmed() }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, strings.Count(read(), "Timeout (50ms)!\n"))
	require.Empty(t, provider.dumps)
}

func TestArmWatchdogRealTimerRepeat(t *testing.T) {
	shutdownRealWatchdog(t)
	out, read := outputFile(t)
	provider := newTimedProvider()

	delay := 50 * time.Millisecond
	start := time.Now()
	require.NoError(t, ArmWatchdog(delay, WithWatchdogOutput(out), WithRepeat(), WithWatchdogProvider(provider)))

	first := provider.next(t)
	second := provider.next(t)
	require.GreaterOrEqual(t, first.Sub(start), delay, "first fire came before the delay")
	require.GreaterOrEqual(t, second.Sub(first), delay, "fires were closer together than the delay")

	require.Eventually(t, func() bool {
		return strings.Count(read(), "Timeout (50ms)!\n") >= 3
	}, 5*time.Second, 10*time.Millisecond)

	CancelWatchdog()
	require.False(t, WatchdogArmed())
	time.Sleep(50 * time.Millisecond)

	fired := strings.Count(read(), "Timeout (50ms)!\n")
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, fired, strings.Count(read(), "Timeout (50ms)!\n"))
}
