package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/labviz/molcache/internal/app"
	"github.com/labviz/molcache/internal/orchestrator"
)

func newFetchCmd(flags *rootFlags) *cobra.Command {
	var (
		output  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <key>",
		Short: "Fetch one asset through every tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, nil, func(a *app.App) error {
				res, err := a.Orchestrator.Fetch(cmd.Context(), args[0], orchestrator.FetchOptions{ForceRefresh: refresh})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s from %s\n",
					res.Key, humanize.IBytes(uint64(len(res.Data))), res.Source)

				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(res.Data)
					return err
				}
				return os.WriteFile(output, res.Data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the asset to this file instead of stdout")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache tiers and refetch from origin")
	return cmd
}
