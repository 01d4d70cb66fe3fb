package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driftTypes string

// driftCmd detects tag drift against the latest snapshot
var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect tag drift since the last recorded snapshot",
	Long: `Compare current resource tags with the latest stored snapshot inside
the lookback window and report every transition on a policy-named tag.
With no usable snapshot, resources are compared against the policy's
static expectation instead.`,
	Example: `  tagvet drift
  tagvet drift --types ec2:instance`,
	RunE: runDrift,
}

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.Flags().StringVarP(&driftTypes, "types", "t", "", "Comma-separated resource types")
}

func runDrift(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resourceTypes := a.resolveTypes(driftTypes)
	if len(resourceTypes) == 0 {
		return fmt.Errorf("no resource types to check: pass --types or scope the policy's applies_to")
	}

	events, err := a.engine.DetectDrift(cmd.Context(), resourceTypes)
	if err != nil {
		return err
	}
	return printJSON(events)
}
