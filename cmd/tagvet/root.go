package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "tagvet",
		Short: "Tag Compliance & Attribution Engine",
		Long: `Tagvet - Tag Compliance & Attribution Engine

Tagvet validates cloud resource tags against an organizational tagging
policy, scores compliance, computes the cost-attribution gap, detects
tag drift over time, and keeps a queryable compliance history.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Tagvet {{.Version}} - Tag Compliance & Attribution Engine
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tagvet.yaml", "Path to runtime config file")
}

// printJSON writes a result to stdout for piping into other tools
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
