// obligatory // comment

/*
Package faultwatch reports goroutine stacks when the process receives a fatal fault signal, and on
a timer when it might be stuck.

Broadly, the tools belong to a few distinct groups:

- Fault handling: [Enable], [Disable], [IsEnabled], [Entries]
- Stall detection: [ArmWatchdog] and [CancelWatchdog]
- On-demand dumps: [DumpBacktrace], [DumpBacktraceThreads], [CaptureStack]
- Teardown: [AtExit] and [Teardown]

The package only supports unix systems.

# Fault handling

[Enable] subscribes to SIGBUS, SIGILL, SIGFPE, and SIGSEGV. When one of them arrives, the handler
first puts back whatever disposition the signal had before Enable (ignored, or the runtime's
default), then writes "Fatal error: <name>" and the stacks of all goroutines to the output chosen
at Enable time, and finally sends the signal to the process again. The second delivery is handled
by the restored disposition, so the process dies (or doesn't) exactly as it would have without
faultwatch. Each signal is reported at most once per Enable.

The report is produced without allocating, locking, or buffering: the output descriptor is
duplicated once, up front, and stacks are formatted into memory mapped at Enable time. This keeps
the report working when the heap or a lock held by the faulting code is in a bad state.

Faults that Go code causes itself (nil dereferences and the like) are turned into panics by the
runtime and never arrive as signals. For those, Enable points the runtime's own crash output
(see [runtime/debug.SetCrashOutput]) at the same file.

# Stall detection

[ArmWatchdog] starts the process's real-time interval timer. When it expires, the goroutine that
armed the watchdog (or, with [WithAllThreads], every goroutine) is dumped; with [WithRepeat], the
timer is restarted. Nothing coordinates with the other goroutines beyond what the runtime does to
read their stacks, so all-goroutine dumps are a best-effort picture.

# Teardown

Go has no atexit, so programs that care about releasing the handler's resources should defer
[Teardown] in main.
*/
package faultwatch
