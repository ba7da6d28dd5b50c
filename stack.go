package faultwatch

import (
	"runtime"
	"strconv"
	"sync"
)

// StackTrace is the stack of a single goroutine, captured by [CaptureStack] for on-demand dumps.
//
// Unlike the fault path, capturing and printing a StackTrace allocates freely.
type StackTrace struct {
	Goroutine uint64
	Frames    []StackFrame
}

type StackFrame struct {
	Function string
	File     string
	Line     int
}

// CaptureStack returns the stack of the calling goroutine, skipping the given number of frames
// above the caller.
func CaptureStack(skip uint) StackTrace {
	frames := getFrames(skip + 1) // skip the additional frame introduced by CaptureStack
	return StackTrace{Goroutine: currentGoroutineID(), Frames: frames}
}

// String formats the trace most recent call first:
//
//	goroutine 1 (most recent call first):
//	main.foo(...)
//		/path/to/main.go:37
func (st StackTrace) String() string {
	var buf []byte

	buf = append(buf, "goroutine "...)
	buf = strconv.AppendUint(buf, st.Goroutine, 10)
	buf = append(buf, " (most recent call first):\n"...)

	if len(st.Frames) == 0 {
		return string(append(buf, "<empty stack>\n"...))
	}

	for _, f := range st.Frames {
		if f.Function == "" {
			buf = append(buf, "<unknown function>"...)
		} else {
			buf = append(buf, f.Function...)
			buf = append(buf, "(...)"...)
		}

		buf = append(buf, "\n\t"...)

		if f.File == "" {
			buf = append(buf, "<unknown file>"...)
		} else {
			buf = append(buf, f.File...)
			if f.Line != 0 {
				buf = append(buf, ':')
				buf = strconv.AppendInt(buf, int64(f.Line), 10)
			}
		}
		buf = append(buf, '\n')
	}

	return string(buf)
}

var pcBufPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 128)
		return &buf
	},
}

func putPCBuffer(buf *[]uintptr) {
	if len(*buf) < 1024 {
		pcBufPool.Put(buf)
	}
}

func getFrames(skip uint) []StackFrame {
	skip += 2 // skip the frame introduced by this function and runtime.Callers

	pcBuf := pcBufPool.Get().(*[]uintptr)
	defer putPCBuffer(pcBuf)

	// read program counters into the buffer, growing it until everything fits
	var pc []uintptr
	for {
		n := runtime.Callers(0, *pcBuf)
		if n < len(*pcBuf) {
			pc = (*pcBuf)[:n]
			break
		}
		*pcBuf = make([]uintptr, 2*len(*pcBuf))
	}

	framesIter := runtime.CallersFrames(pc)
	var frames []StackFrame
	more := len(pc) != 0
	for more {
		var frame runtime.Frame
		frame, more = framesIter.Next()

		if skip > 0 {
			skip -= 1
			continue
		}

		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
	}

	return frames
}
