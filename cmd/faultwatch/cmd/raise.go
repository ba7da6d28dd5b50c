package cmd

import (
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sharnoff/faultwatch"
)

var raiseCmd = &cobra.Command{
	Use:   "raise <segv|fpe|bus|ill>",
	Short: "Enable the fault handler and raise a fatal signal",
	Long: `Enable the fault handler, then send the given fatal signal to this process.

The report is written to --output before the signal is delivered again under
its previous disposition, which normally kills the process. With --ignore, the
signal is ignored before the handler is enabled, so the process survives the
second delivery and exits normally.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"segv", "fpe", "bus", "ill"},
	RunE:      runRaise,
}

var (
	raiseOtherGoroutine bool
	raiseIgnore         bool
	raiseWait           time.Duration
)

func init() {
	rootCmd.AddCommand(raiseCmd)
	raiseCmd.Flags().BoolVar(&raiseOtherGoroutine, "other-goroutine", false,
		"send SIGSEGV from a separate goroutine (segv only)")
	raiseCmd.Flags().BoolVar(&raiseIgnore, "ignore", false,
		"ignore the signal before enabling the handler, so the process survives")
	raiseCmd.Flags().DurationVar(&raiseWait, "wait", 2*time.Second,
		"how long to wait for the signal to be handled")
}

type raiser struct {
	sig   unix.Signal
	raise func() error
}

func raiserFor(name string, otherGoroutine bool) (raiser, error) {
	switch name {
	case "segv":
		return raiser{unix.SIGSEGV, func() error { return faultwatch.RaiseSEGV(otherGoroutine) }}, nil
	case "fpe":
		return raiser{unix.SIGFPE, faultwatch.RaiseFPE}, nil
	case "bus":
		return raiser{unix.SIGBUS, faultwatch.RaiseBUS}, nil
	case "ill":
		return raiser{unix.SIGILL, faultwatch.RaiseILL}, nil
	default:
		return raiser{}, fmt.Errorf("unknown fault %q (want segv, fpe, bus, or ill)", name)
	}
}

func runRaise(cmd *cobra.Command, args []string) error {
	r, err := raiserFor(args[0], raiseOtherGoroutine)
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	if raiseIgnore {
		signal.Ignore(r.sig)
	}

	if err := faultwatch.Enable(faultwatch.WithOutput(out)); err != nil {
		return fmt.Errorf("enabling fault handler: %w", err)
	}
	if err := r.raise(); err != nil {
		return err
	}

	// Without --ignore, the process normally dies before this returns.
	select {
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	case <-time.After(raiseWait):
	}

	if !raiseIgnore {
		return fmt.Errorf("still running %s after raising %s", raiseWait, unix.SignalName(r.sig))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "survived %s\n", unix.SignalName(r.sig))
	return nil
}
