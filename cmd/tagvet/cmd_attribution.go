package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tagvet/tagvet/attribution"
	"github.com/tagvet/tagvet/types"
)

var (
	attributionTypes   string
	attributionGroupBy string
	attributionStart   string
	attributionEnd     string
)

// attributionCmd computes the cost-attribution gap
var attributionCmd = &cobra.Command{
	Use:   "attribution",
	Short: "Compute the cost-attribution gap",
	Long: `Join per-resource cost with compliance state and report how much
spend cannot be attributed because of tag violations. The window defaults
to the current calendar month.`,
	Example: `  tagvet attribution                                   # Current month
  tagvet attribution --group-by region                 # Per-region breakdown
  tagvet attribution --start 2026-07-01 --end 2026-08-01`,
	RunE: runAttribution,
}

func init() {
	rootCmd.AddCommand(attributionCmd)
	attributionCmd.Flags().StringVarP(&attributionTypes, "types", "t", "", "Comma-separated resource types")
	attributionCmd.Flags().StringVarP(&attributionGroupBy, "group-by", "g", "", "Breakdown dimension: resource_type, region, account")
	attributionCmd.Flags().StringVar(&attributionStart, "start", "", "Window start (YYYY-MM-DD)")
	attributionCmd.Flags().StringVar(&attributionEnd, "end", "", "Window end (YYYY-MM-DD)")
}

func runAttribution(cmd *cobra.Command, args []string) error {
	groupBy, err := parseGroupBy(attributionGroupBy)
	if err != nil {
		return err
	}
	windowStart, windowEnd, err := parseWindow(attributionStart, attributionEnd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	resourceTypes := a.resolveTypes(attributionTypes)
	if len(resourceTypes) == 0 {
		return fmt.Errorf("no resource types to consider: pass --types or scope the policy's applies_to")
	}

	result, err := a.engine.CostAttribution(cmd.Context(), resourceTypes, attribution.Options{
		GroupBy:     groupBy,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func parseGroupBy(s string) (types.GroupDimension, error) {
	switch s {
	case "":
		return "", nil
	case string(types.GroupByResourceType), string(types.GroupByRegion), string(types.GroupByAccount):
		return types.GroupDimension(s), nil
	default:
		return "", fmt.Errorf("invalid group-by %q (must be resource_type, region, or account)", s)
	}
}

// parseWindow parses the flags or defaults to the current calendar month
func parseWindow(start, end string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	windowStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	windowEnd := now

	var err error
	if start != "" {
		if windowStart, err = time.Parse("2006-01-02", start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if end != "" {
		if windowEnd, err = time.Parse("2006-01-02", end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	if !windowEnd.After(windowStart) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end must be after start")
	}
	return windowStart, windowEnd, nil
}
