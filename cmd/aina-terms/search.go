package main

import (
	"github.com/spf13/cobra"
)

func newSearchCmd(e *env) *cobra.Command {
	var (
		k         int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "search <phrase>...",
		Short: "Look phrases up in the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.ready(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if k == 0 {
				k = e.cfg.Engine.K
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = e.cfg.Engine.Threshold
			}
			results, err := a.Engine.Search(ctx, args, k, &threshold)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "neighbours per phrase (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "similarity threshold (default from config)")
	return cmd
}
