package faultwatch

import (
	"golang.org/x/sys/unix"
)

// MinSigStackSize is the default size of the alternate region. It matches the size of the signal
// stack the Go runtime gives each thread.
const MinSigStackSize = 32 * 1024

const fallbackRegionSize = 4 * 1024

// altRegion is memory set aside at enable time for the fault path to format stacks into, so that
// no allocation is needed when a fault arrives. It's mapped outside the Go heap, which means it
// stays usable even if the heap is in a bad state.
//
// Once mapped, the region is never resized; it's only released by teardown.
type altRegion struct {
	mem      []byte
	mapped   bool
	fallback [fallbackRegionSize]byte
}

// mapRegion is swapped out in tests to simulate allocation failure.
var mapRegion = func(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// alloc maps the region if it isn't already. On failure the region stays in degraded mode, using
// the small fixed fallback array.
func (r *altRegion) alloc(size int) error {
	if r.mapped {
		return nil
	}
	if size <= 0 {
		size = MinSigStackSize
	}

	mem, err := mapRegion(size)
	if err != nil {
		return err
	}
	r.mem = mem
	r.mapped = true
	return nil
}

func (r *altRegion) bytes() []byte {
	if r.mapped {
		return r.mem
	}
	return r.fallback[:]
}

func (r *altRegion) size() int {
	return len(r.bytes())
}

func (r *altRegion) free() error {
	if !r.mapped {
		return nil
	}
	mem := r.mem
	r.mem = nil
	r.mapped = false
	return unix.Munmap(mem)
}
