package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/labviz/molcache/internal/app"
	"github.com/labviz/molcache/internal/config"
)

func newWarmCmd(flags *rootFlags) *cobra.Command {
	var catalogue string
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Run one warming cycle and print what was prefetched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mutate := func(cfg *config.Configuration) {
				if catalogue != "" {
					cfg.Warmer.CatalogueFile = catalogue
				}
			}
			return withApp(cmd.Context(), flags, mutate, func(a *app.App) error {
				cycle, err := a.Warmer.RunOnce(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "batch %s: %d candidates, %d selected (%s), %d skipped\n",
					cycle.Report.BatchID, cycle.Candidates, len(cycle.Selection.Selected),
					humanize.IBytes(uint64(cycle.Selection.TotalBytes)), len(cycle.Selection.Skipped))

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tSCORE\tSIZE\tSTATUS\tSOURCE")
				for i, s := range cycle.Selection.Selected {
					item := cycle.Report.Items[i]
					fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\t%s\n",
						s.ID, s.Composite, humanize.IBytes(uint64(s.SizeBytes)), item.Status, item.Source)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				for _, s := range cycle.Selection.Skipped {
					fmt.Fprintf(out, "skipped %s: %s\n", s.ID, s.Reason)
				}
				fmt.Fprintf(out, "completed %d, failed %d in %s\n",
					cycle.Report.Completed, cycle.Report.Failed, cycle.Report.Duration)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&catalogue, "catalogue", "", "catalogue YAML file (overrides warmer.catalogue_file)")
	return cmd
}
