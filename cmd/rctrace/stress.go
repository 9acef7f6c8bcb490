package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/sharedptr/internal/scenario"
)

// newStressCmd implements 'rctrace stress'.
func newStressCmd() *cobra.Command {
	var cfg scenario.StressConfig

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Clone, upgrade and release one atomic handle from many goroutines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := scenario.Stress(cmd.Context(), cfg)
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"run %s: %d goroutines, %d locks, %d misses, released %d, blocks live %d, took %s\n",
					res.RunID, res.Goroutines, res.Locks, res.Misses, res.Destroyed, res.Blocks.Live(), res.Duration)
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&cfg.Goroutines, "goroutines", "g", 8, "concurrent owners")
	cmd.Flags().IntVarP(&cfg.Iterations, "iterations", "n", 1000, "rounds per owner")
	cmd.Flags().BoolVar(&cfg.Inline, "inline", false, "store the element inside the control block")
	return cmd
}
