package faultwatch

import (
	"os"
)

// Options holds the settings for [Enable].
type Options struct {
	// Output receives fault reports. It's resolved to a raw descriptor once, when the handler is
	// enabled. Defaults to os.Stderr.
	Output *os.File
	// AltStackSize is the size of the preallocated region fault reports are formatted into.
	// Defaults to MinSigStackSize. Ignored if a region is already mapped.
	AltStackSize int
	// Provider renders goroutine stacks. Defaults to RuntimeProvider.
	Provider Provider
}

// Option configures [Enable].
type Option func(*Options)

// WithOutput sets where fault reports are written. Defaults to os.Stderr.
func WithOutput(f *os.File) Option {
	return func(o *Options) { o.Output = f }
}

// WithAltStackSize sets the size of the region fault reports are formatted into.
func WithAltStackSize(size int) Option {
	return func(o *Options) { o.AltStackSize = size }
}

// WithProvider sets the Provider used for fault reports.
func WithProvider(p Provider) Option {
	return func(o *Options) { o.Provider = p }
}

func applyOptions(opts []Option) Options {
	o := Options{
		Output:       os.Stderr,
		AltStackSize: MinSigStackSize,
		Provider:     RuntimeProvider{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DefaultWatchdogBufferSize is the default size of the buffer the watchdog formats stacks into.
// Dumps that don't fit are truncated.
const DefaultWatchdogBufferSize = 256 * 1024

type watchdogOptions struct {
	output     *os.File
	repeat     bool
	allThreads bool
	provider   Provider
	bufSize    int
}

// WatchdogOption configures [ArmWatchdog].
type WatchdogOption func(*watchdogOptions)

// WithRepeat makes the watchdog fire every delay, until canceled or until a dump fails.
func WithRepeat() WatchdogOption {
	return func(o *watchdogOptions) { o.repeat = true }
}

// WithAllThreads makes the watchdog dump every goroutine instead of only the one that armed it.
func WithAllThreads() WatchdogOption {
	return func(o *watchdogOptions) { o.allThreads = true }
}

// WithWatchdogOutput sets where watchdog dumps are written. Defaults to os.Stderr.
func WithWatchdogOutput(f *os.File) WatchdogOption {
	return func(o *watchdogOptions) { o.output = f }
}

// WithWatchdogProvider sets the Provider used for watchdog dumps.
func WithWatchdogProvider(p Provider) WatchdogOption {
	return func(o *watchdogOptions) { o.provider = p }
}

// WithWatchdogBufferSize sets the size of the watchdog's dump buffer. Non-positive sizes mean
// DefaultWatchdogBufferSize.
func WithWatchdogBufferSize(size int) WatchdogOption {
	return func(o *watchdogOptions) { o.bufSize = size }
}

func applyWatchdogOptions(opts []WatchdogOption) watchdogOptions {
	o := watchdogOptions{
		output:   os.Stderr,
		provider: RuntimeProvider{},
		bufSize:  DefaultWatchdogBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bufSize <= 0 {
		o.bufSize = DefaultWatchdogBufferSize
	}
	return o
}
