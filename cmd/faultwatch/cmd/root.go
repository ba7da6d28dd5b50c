package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sharnoff/faultwatch"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	output    string
)

var rootCmd = &cobra.Command{
	Use:   "faultwatch",
	Short: "Exercise the fault handler and stall watchdog",
	Long: `faultwatch installs the fatal fault handler and the stall watchdog in its own
process, so their reports can be checked end to end: raise a fault and see what
gets written before the process dies, or stall for a while and see what the
watchdog dumps.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		faultwatch.SetLogger(newLogger(viper.GetString("log.level"), viper.GetString("log.format"), os.Stderr))
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context, and everything
// the package set up is torn down before returning.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if tErr := faultwatch.Teardown(teardownCtx); tErr != nil && err == nil {
		err = fmt.Errorf("teardown: %w", tErr)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func SetVersion(version string) {
	rootCmd.Version = version
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: $HOME/.config/faultwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "",
		"file that reports are appended to (default: stderr)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/faultwatch")
	}

	viper.SetEnvPrefix("FAULTWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return nil
}

// openOutput opens the configured report file for appending. An empty path or "-" means stderr.
// The returned function closes the file, if one was opened.
func openOutput() (*os.File, func(), error) {
	path := viper.GetString("output")
	if path == "" || path == "-" {
		return os.Stderr, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
