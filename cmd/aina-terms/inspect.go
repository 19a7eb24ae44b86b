package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

func newInspectCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect the build catalog",
	}
	cmd.AddCommand(newInspectBuildsCmd(e), newInspectEntryCmd(e))
	return cmd
}

func newInspectBuildsCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "List recorded index builds, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			builds, err := a.Catalog.ListBuilds(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tCREATED\tENTRIES\tVARIANTS\tMODEL\tSOURCE\tACTIVE")
			for _, b := range builds {
				active := ""
				if b.Active {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
					b.Version, b.CreatedAt.Format(time.RFC3339), b.Entries, b.Variants, b.ModelID, b.Source, active)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum builds to list (default 20)")
	return cmd
}

func newInspectEntryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "entry <id>",
		Short: "Show how a glossary entry changed across builds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			revs, err := a.Catalog.EntryHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(revs) == 0 {
				return fmt.Errorf("entry %s: %w", args[0], internalerr.ErrNotFound)
			}
			return printJSON(cmd.OutOrStdout(), revs)
		},
	}
}
