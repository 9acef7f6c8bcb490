package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/kolkov/sharedptr/rc"
)

// newVersionCmd implements 'rctrace version'. With --require it fails when
// the runtime is older than the given version or has another major version.
func newVersionCmd() *cobra.Command {
	var require string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := rc.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "rctrace version %s (counting: %s, leak check: %t)\n",
				info.Version, info.Counting, info.LeakCheck)
			if require == "" {
				return nil
			}
			return checkRequire(info.Version, require)
		},
	}

	cmd.Flags().StringVar(&require, "require", "", "fail unless the runtime satisfies this version (vX.Y.Z)")
	return cmd
}

func checkRequire(have, want string) error {
	if !semver.IsValid(want) {
		return fmt.Errorf("--require %q is not a semantic version", want)
	}
	if semver.Major(have) != semver.Major(want) {
		return fmt.Errorf("runtime %s is not compatible with %s", have, want)
	}
	if semver.Compare(have, want) < 0 {
		return fmt.Errorf("runtime %s is older than required %s", have, want)
	}
	return nil
}
