package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagvet/tagvet/config"
	"github.com/tagvet/tagvet/policy"
)

// policyCmd groups policy document operations
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with the tagging policy document",
}

// policyValidateCmd checks a policy document without touching the cloud
var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a tagging policy document",
	Long: `Load and compile a tagging policy document, reporting the first
problem found. With no path argument the policy from the runtime config
is validated.`,
	Example: `  tagvet policy validate policy.json
  tagvet policy validate               # Validate the configured policy`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPolicyValidate,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.PolicyPath
	}

	p, err := policy.Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("policy %s is valid\n", path)
	fmt.Printf("  version:       %s\n", p.Version)
	fmt.Printf("  required tags: %d\n", len(p.RequiredTags))
	fmt.Printf("  optional tags: %d\n", len(p.OptionalTags))
	if p.HasUniversalRules() {
		fmt.Printf("  scope:         all resource types\n")
	} else {
		fmt.Printf("  scope:         %v\n", p.Closure())
	}
	return nil
}
