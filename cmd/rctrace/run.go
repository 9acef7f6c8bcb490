package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/sharedptr/internal/scenario"
)

// newRunCmd implements 'rctrace run'.
//
// Example:
//
//	rctrace run examples/scenarios/two_owners.yaml
func newRunCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run scenario.yaml [scenario.yaml...]",
		Short: "Replay scenarios and print the count trace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}

				res, err := scenario.Run(sc)
				if !quiet && res != nil {
					fmt.Fprintf(out, "== %s (%s)\n", sc.Name, path)
					for _, ev := range res.Events {
						fmt.Fprintln(out, ev)
					}
				}
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(out, "PASS %s: %d steps, %d released, %d blocks\n",
					path, len(res.Events), res.Destroyed, res.Blocks.Allocations)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenario(s) failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the PASS/FAIL lines")
	return cmd
}
