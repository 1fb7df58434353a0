// Package cli provides the command-line interface for sharkoder.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sharkoder/sharkoder/internal/bootstrap"
	"github.com/sharkoder/sharkoder/internal/config"
	"github.com/sharkoder/sharkoder/internal/logging"
	"github.com/sharkoder/sharkoder/internal/version"
)

var (
	cfgFile string
	verbose bool
	debug   bool

	logger *logging.Logger

	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version and BuildTime alias the version package so callers can still
// override them (e.g. via ldflags-injected main package vars) before Execute.
var (
	Version   = version.Version
	BuildTime = version.BuildTime
)

// NewRootCmd creates the root command for the sharkoder CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sharkoder",
		Short: "Unattended bulk video transcoding pipeline",
		Long: `sharkoder ` + Version + ` - Built: ` + BuildTime + `

Drives an unattended pipeline that discovers video files on a remote
filesystem, downloads, transcodes, and uploads them back, with a durable
job queue that survives restarts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(-1)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "/sharkoder.config.json", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newCacheCmd())

	return rootCmd
}

// Execute runs the root command, wiring SIGINT/SIGTERM into a cancellable
// context available to subcommands (spec §4.6: lifecycle control).
func Execute() int {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancelFunc()
	}()

	if err := NewRootCmd().ExecuteContext(rootContext); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// loadConfig loads the configuration snapshot from the global --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// buildApp loads the configuration and wires every adapter a one-shot CLI
// command needs to act on the durable store directly (spec §9: the core
// takes its configuration as an immutable snapshot at construct time).
func buildApp() (*bootstrap.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(cfg, logger)
}
