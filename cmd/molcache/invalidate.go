package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labviz/molcache/internal/app"
)

func newInvalidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <key>...",
		Short: "Remove keys from every tier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, nil, func(a *app.App) error {
				for _, key := range args {
					a.Orchestrator.Invalidate(cmd.Context(), key)
					fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", key)
				}
				return nil
			})
		},
	}
}
