package main

import (
	"github.com/spf13/cobra"

	"github.com/tagvet/tagvet/storage"
)

var (
	trendTypes     string
	trendSinceDays int
	trendGroupBy   string
)

// trendCmd aggregates stored snapshots into time buckets
var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show compliance score trend from stored snapshots",
	Long: `Aggregate recorded compliance snapshots into day, week, or month
buckets. Scores are averaged and violation counts summed per bucket.`,
	Example: `  tagvet trend --since-days 30
  tagvet trend --since-days 90 --group-by week
  tagvet trend --types ec2:instance --group-by month`,
	RunE: runTrend,
}

func init() {
	rootCmd.AddCommand(trendCmd)
	trendCmd.Flags().StringVarP(&trendTypes, "types", "t", "", "Restrict to snapshots of this exact scanned set")
	trendCmd.Flags().IntVar(&trendSinceDays, "since-days", 30, "How far back to aggregate")
	trendCmd.Flags().StringVarP(&trendGroupBy, "group-by", "g", "day", "Bucket granularity: day, week, month")
}

func runTrend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	points, err := a.engine.Trend(cmd.Context(), storage.TrendQuery{
		ResourceTypes: splitTypes(trendTypes),
		SinceDays:     trendSinceDays,
		GroupBy:       storage.Grouping(trendGroupBy),
	})
	if err != nil {
		return err
	}
	return printJSON(points)
}
