package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sharnoff/faultwatch"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the current goroutine stacks",
	Long:  "Write the stack of the calling goroutine, or with --all of every goroutine, to --output.",
	Args:  cobra.NoArgs,
	RunE:  runDump,
}

var dumpAll bool

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "dump every goroutine")
}

func runDump(_ *cobra.Command, _ []string) error {
	out, closeOut, err := openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	if dumpAll {
		return faultwatch.DumpBacktraceThreads(out)
	}
	return faultwatch.DumpBacktrace(out)
}
