package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	strutil "github.com/sharkoder/sharkoder/internal/util/strings"
)

// newStatsCmd reports job counts by state (spec §6: stats()).
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			counts := st.CountByState()
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			total := 0
			for state, n := range counts {
				fmt.Fprintf(w, "%s\t%d %s\n", state, n, strutil.Pluralize("job", int64(n)))
				total += n
			}
			fmt.Fprintf(w, "total\t%d %s\n", total, strutil.Pluralize("job", int64(total)))
			return w.Flush()
		},
	}
}
