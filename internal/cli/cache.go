package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// newCacheCmd creates the 'cache' command group over the Metadata Cache
// (spec §4.4: full/incremental indexation, queries, search).
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and refresh the remote-tree metadata cache",
	}
	cmd.AddCommand(newCacheIndexCmd())
	cmd.AddCommand(newCacheSyncCmd())
	cmd.AddCommand(newCacheSearchCmd())
	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheLsCmd())
	return cmd
}

func newCacheIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <remote-root>",
		Short: "Run a full indexation of the remote tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions64(-1,
				progressbar.OptionSetDescription("indexing"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSpinnerType(14),
				progressbar.OptionSetRenderBlankState(true),
			)
			app.Cache.OnIndexProgress(func(count int64) {
				bar.Describe(fmt.Sprintf("indexing (%d files)", count))
				_ = bar.Add(1)
			})

			err = app.Cache.FullIndex(cmd.Context(), args[0])
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
			return err
		},
	}
}

func newCacheSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <remote-dir>",
		Short: "Incrementally reconcile a subtree against the live listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			return app.Cache.IncSync(cmd.Context(), args[0])
		},
	}
}

func newCacheSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <substring>",
		Short: "Substring-search cached file names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			rows, err := app.Cache.Search(args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tSIZE\tCODEC")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%s\n", r.Path, r.Size, r.Codec)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum results to return")
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <remote-dir>",
		Short: "Show a folder's cached aggregate (O(1) lookup)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			row := app.Cache.FolderStats(args[0])
			if row == nil {
				return fmt.Errorf("no cached aggregate for %s (run 'cache index' first)", args[0])
			}
			fmt.Printf("files=%d videos=%d size=%d duration=%s\n", row.FileCount, row.VideoCount, row.TotalSize, row.TotalDur)
			return nil
		},
	}
}

func newCacheLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <remote-dir>",
		Short: "List a directory, merging cached rows with a live listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			files, folders, err := app.Cache.ListDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			for _, f := range folders {
				fmt.Fprintf(w, "%s/\t<dir>\n", f.Path)
			}
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%d\n", f.Path, f.Size)
			}
			return w.Flush()
		},
	}
}
