package faultwatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// routineGroup tracks the background goroutines started by the package (one per fault signal, plus
// the watchdog), so teardown can wait for them to exit.
//
// It's essentially a sync.WaitGroup with named tasks: a task may be added more than once, and
// Wait returns a channel so it can be selected over.
type routineGroup struct {
	mu      sync.Mutex
	name    string
	count   uint
	allDone chan struct{}
	tasks   map[string]uint
}

// RoutineInfo describes a set of running background goroutines with the same name, as returned by
// [BackgroundRoutines].
type RoutineInfo struct {
	Name  string `json:"name"`
	Count uint   `json:"count"`
}

func newRoutineGroup(name string) *routineGroup {
	return &routineGroup{name: name, tasks: make(map[string]uint)}
}

// Go runs f in a new goroutine, counted under name until it returns.
func (g *routineGroup) Go(name string, f func()) {
	g.Add(name)
	go func() {
		defer g.Done(name)
		f()
	}()
}

func (g *routineGroup) Add(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count += 1
	g.tasks[name] += 1
}

// Done marks one task with the name as completed. It panics if there are none left.
func (g *routineGroup) Done(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.tasks[name]
	if c == 0 {
		panic(fmt.Sprintf("%s: zero remaining routines with name %q", g.name, name))
	}

	c -= 1
	if c == 0 {
		delete(g.tasks, name)
	} else {
		g.tasks[name] = c
	}

	g.count -= 1
	if g.count == 0 && g.allDone != nil {
		close(g.allDone)
		g.allDone = nil
	}
}

// Wait returns a channel that is closed once every task has been marked Done.
func (g *routineGroup) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		return alwaysClosed
	}
	if g.allDone == nil {
		g.allDone = make(chan struct{})
	}
	return g.allDone
}

// TryWait waits for the group, returning early with ctx.Err() if the context is canceled first.
//
// If the context is already canceled when TryWait is called, it always returns the context's
// error.
func (g *routineGroup) TryWait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.Wait():
			return nil
		}
	}
}

func (g *routineGroup) Finished() bool {
	return isClosed(g.Wait())
}

// Tasks returns the running tasks, sorted by name.
func (g *routineGroup) Tasks() []RoutineInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ts []RoutineInfo
	for name, count := range g.tasks {
		ts = append(ts, RoutineInfo{Name: name, Count: count})
	}
	slices.SortFunc(ts, func(a, b RoutineInfo) int { return strings.Compare(a.Name, b.Name) })
	return ts
}
