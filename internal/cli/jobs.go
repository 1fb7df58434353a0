package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sharkoder/sharkoder/internal/models"
	"github.com/sharkoder/sharkoder/internal/store"
	"github.com/sharkoder/sharkoder/internal/util/filter"
	"github.com/sharkoder/sharkoder/internal/validation"
)

// newJobsCmd creates the 'jobs' command group (spec §6: add_job, remove_job,
// pause_job, resume_job, retry, clear_all).
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage transcoding jobs in the durable queue",
	}

	cmd.AddCommand(newJobsAddCmd())
	cmd.AddCommand(newJobsEnqueueCmd())
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsRemoveCmd())
	cmd.AddCommand(newJobsPauseCmd())
	cmd.AddCommand(newJobsResumeCmd())
	cmd.AddCommand(newJobsRetryCmd())
	cmd.AddCommand(newJobsClearCmd())
	cmd.AddCommand(newJobsApproveCmd())
	cmd.AddCommand(newJobsRejectCmd())

	return cmd
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Root)
}

func newJobsAddCmd() *cobra.Command {
	var size int64
	cmd := &cobra.Command{
		Use:   "add <remote-path>",
		Short: "Add a remote video file to the job queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateRemotePath(args[0]); err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			job, err := st.AddJob(args[0], size)
			if err != nil {
				return err
			}
			fmt.Printf("added job %d for %s\n", job.ID, job.RemotePath)
			return nil
		},
	}
	cmd.Flags().Int64Var(&size, "size", 0, "Known source file size in bytes (optional)")
	return cmd
}

func newJobsEnqueueCmd() *cobra.Command {
	var include, exclude, search string
	cmd := &cobra.Command{
		Use:   "enqueue <remote-dir>",
		Short: "Enqueue every cached video under a directory, optionally filtered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			files, _, err := app.Cache.ListDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cfg := filter.Config{
				Include: filter.ParsePatternList(include),
				Exclude: filter.ParsePatternList(exclude),
				Search:  filter.ParsePatternList(search),
			}
			videos := make([]models.FileRow, 0, len(files))
			for _, f := range files {
				if f.IsVideo {
					videos = append(videos, f)
				}
			}
			matched := filter.Apply(videos, cfg)
			for _, f := range matched {
				job, err := app.Store.AddJob(f.Path, f.Size)
				if err != nil {
					return err
				}
				fmt.Printf("added job %d for %s\n", job.ID, job.RemotePath)
			}
			fmt.Printf("enqueued %d of %d cached videos under %s\n", len(matched), len(videos), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&include, "include", "", "Comma-separated include glob patterns")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated exclude glob patterns")
	cmd.Flags().StringVar(&search, "search", "", "Comma-separated substrings that must all appear in the name")
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			jobs := st.AllJobs()
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tREMOTE PATH\tSIZE")
			for _, j := range jobs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", j.ID, j.State, j.RemotePath, j.SourceSize)
			}
			return w.Flush()
		},
	}
}

func parseJobID(arg string) (int64, error) {
	return strconv.ParseInt(arg, 10, 64)
}

func newJobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Cancel a job and clean its scratch files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.RemoveJob(id)
		},
	}
}

func newJobsPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Pause a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.PauseJob(id)
		},
	}
}

func newJobsResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a paused job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.ResumeJob(id)
		},
	}
}

func newJobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a failed or completed job back to waiting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.Retry(id)
		},
	}
}

func newJobsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every non-completed job",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.ClearAll(cmd.Context())
		},
	}
}

func newJobsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve an encoded file awaiting upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.Approve(id)
		},
	}
}

func newJobsRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <job-id>",
		Short: "Reject an encoded file and re-queue for re-encoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Scheduler.Reject(id)
		},
	}
}
