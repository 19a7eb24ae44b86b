package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

func newBuildCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the index from the glossary, publish it and mark it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.cfg.Glossary.Path == "" {
				return fmt.Errorf("%w: --glossary or glossary.path required", internalerr.ErrInvalidConfig)
			}
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Manager.Rebuild(ctx)
			if err != nil {
				return err
			}
			st := snap.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "version:     %s\nmodel:       %s (%d dims)\nentries:     %d\nvariants:    %d\nstem keys:   %d\nvector rows: %d\nchecksum:    %s\n",
				snap.Version, snap.ModelID, snap.Dims, st.Entries, st.Variants, st.StemKeys, st.VectorRows, snap.GlossaryChecksum)
			return nil
		},
	}
}
