package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanTypes string

// scanCmd runs one compliance scan
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan resources and score tag compliance",
	Long: `Scan cloud resources across the configured regions, validate every
resource against the tagging policy, and print the compliance result.
Each scan also records a snapshot for drift and trend queries.`,
	Example: `  tagvet scan                          # Scan the policy's resource types
  tagvet scan --types ec2:instance     # Scan specific resource types
  tagvet scan -c prod.yaml             # Use a different runtime config`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVarP(&scanTypes, "types", "t", "", "Comma-separated resource types to scan")
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resourceTypes := a.resolveTypes(scanTypes)
	if len(resourceTypes) == 0 {
		return fmt.Errorf("no resource types to scan: pass --types or scope the policy's applies_to")
	}

	result, err := a.engine.ScanCompliance(cmd.Context(), resourceTypes)
	if err != nil {
		return err
	}
	return printJSON(result)
}
