package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/labviz/molcache/internal/app"
)

func newStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the configured tiers and what each backend reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, nil, func(a *app.App) error {
				stats := a.Orchestrator.Stats()

				names := make([]string, 0, len(stats.Tiers))
				for name := range stats.Tiers {
					names = append(names, name)
				}
				sort.Slice(names, func(i, j int) bool {
					return stats.Tiers[names[i]].Tier < stats.Tiers[names[j]].Tier
				})

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIER\tBACKEND\tENTRIES\tSIZE\tHITS\tMISSES\tEVICTIONS\tHEALTH")
				for _, name := range names {
					snap := stats.Tiers[name]
					entries, size := "-", "-"
					var hits, misses, evictions uint64
					if r := snap.Reported; r != nil {
						entries = fmt.Sprint(r.Entries)
						size = humanize.IBytes(uint64(r.Bytes))
						hits, misses, evictions = r.Hits, r.Misses, r.Evictions
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						name, snap.Backend, entries, size, hits, misses, evictions, snap.Health)
				}
				return tw.Flush()
			})
		},
	}
}
