package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sharnoff/faultwatch"
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Arm the watchdog and stall",
	Long: `Arm the stall watchdog, then block the arming goroutine for --stall.

The watchdog reports "Timeout (<delay>)!" and a stack dump to --output each time
it expires. Use --repeat to keep it firing every --delay until the stall ends.`,
	Args: cobra.NoArgs,
	RunE: runWatchdog,
}

func init() {
	rootCmd.AddCommand(watchdogCmd)
	watchdogCmd.Flags().Duration("delay", time.Second, "time before the watchdog fires")
	watchdogCmd.Flags().Bool("repeat", false, "fire every delay until the stall ends")
	watchdogCmd.Flags().Bool("all-threads", false, "dump every goroutine, not only the stalled one")
	watchdogCmd.Flags().Duration("stall", 3*time.Second, "how long to block")
	watchdogCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while stalled")

	_ = viper.BindPFlag("watchdog.delay", watchdogCmd.Flags().Lookup("delay"))
	_ = viper.BindPFlag("watchdog.repeat", watchdogCmd.Flags().Lookup("repeat"))
	_ = viper.BindPFlag("watchdog.all_threads", watchdogCmd.Flags().Lookup("all-threads"))
	_ = viper.BindPFlag("watchdog.stall", watchdogCmd.Flags().Lookup("stall"))
	_ = viper.BindPFlag("metrics.addr", watchdogCmd.Flags().Lookup("metrics-addr"))
}

func runWatchdog(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	out, closeOut, err := openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	if addr := viper.GetString("metrics.addr"); addr != "" {
		stopMetrics, err := serveMetrics(addr)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	opts := []faultwatch.WatchdogOption{faultwatch.WithWatchdogOutput(out)}
	if viper.GetBool("watchdog.repeat") {
		opts = append(opts, faultwatch.WithRepeat())
	}
	if viper.GetBool("watchdog.all_threads") {
		opts = append(opts, faultwatch.WithAllThreads())
	}

	delay := viper.GetDuration("watchdog.delay")
	if err := faultwatch.ArmWatchdog(delay, opts...); err != nil {
		return err
	}
	defer faultwatch.CancelWatchdog()

	stall(ctx, viper.GetDuration("watchdog.stall"))
	return nil
}

// stall blocks the calling goroutine, which is the one the watchdog reports on.
func stall(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// serveMetrics exposes the package's counters over HTTP until the returned function is called.
func serveMetrics(addr string) (func(), error) {
	reg := prometheus.NewRegistry()
	for _, c := range faultwatch.Collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Println("metrics server:", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
