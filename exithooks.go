package faultwatch

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/slices"
)

// Go has no atexit, so teardown is explicit: the program calls Teardown on its way out (typically
// deferred in main, or from a SIGTERM handler), and everything registered with AtExit runs.

type exitHooks struct {
	mu    sync.Mutex
	hooks []func(context.Context) error
}

var atExit exitHooks

// AtExit registers f to run during [Teardown]. Hooks run in the reverse order of registration.
func AtExit(f func(context.Context) error) {
	atExit.add(f)
}

// Teardown runs every hook registered with [AtExit], most recent first, and forgets them. All
// hooks run even if some fail; their errors are combined.
//
// Enable and ArmWatchdog register their own teardown, which disables the fault handler, cancels
// the watchdog, and releases the memory reserved for reports. Both can be used again after
// Teardown. If ctx is done while they wait for their background goroutines, they give up and
// return an error wrapping ctx.Err().
func Teardown(ctx context.Context) error {
	return atExit.run(ctx)
}

func (h *exitHooks) add(f func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hooks = append(h.hooks, f)
}

func (h *exitHooks) run(ctx context.Context) error {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	// Unlock while calling hooks; they may register new ones.
	h.mu.Unlock()

	slices.Reverse(hooks)

	var result *multierror.Error
	for _, f := range hooks {
		if err := f(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
