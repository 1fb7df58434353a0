package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharkoder/sharkoder/internal/logging"
	"github.com/sharkoder/sharkoder/internal/progress"
)

// newDaemonCmd creates the 'daemon' command group: the long-running process
// that drives the pipeline scheduler (spec §4.6).
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the unattended transcoding pipeline in the foreground",
		Long: `Starts the download/encode/upload pipeline and blocks until the process
receives SIGINT or SIGTERM, at which point every active job is returned to
the waiting state and scratch files are cleaned up.`,
	}
	cmd.AddCommand(newDaemonRunCmd())
	return cmd
}

func newDaemonRunCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && logger.EventBus() == nil {
				logger = logging.NewDefaultDaemonLogger()
			}

			app, err := buildApp()
			if err != nil {
				return err
			}
			if err := app.Scheduler.Start(cmd.Context()); err != nil {
				return err
			}
			logger.Infof("daemon started, root=%s", app.Config.Root)
			fmt.Println("sharkoder daemon running, press Ctrl+C to stop")

			if watch && app.Bus != nil {
				w := progress.NewMultiWatcher()
				go w.Run(app.Bus.SubscribeAll())
			}

			<-cmd.Context().Done()
			logger.Infof("shutdown signal received, draining active jobs")
			app.Scheduler.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Render live progress bars in the terminal")
	return cmd
}
