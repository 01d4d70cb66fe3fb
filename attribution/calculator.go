// Package attribution joins validation results with per-resource cost to
// compute attributable versus unattributable spend.
package attribution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tagvet/tagvet/types"
)

// missingCostThreshold marks quality partial when more than this share of
// resources lack cost data
const missingCostThreshold = 0.05

// Options control one attribution computation
type Options struct {
	GroupBy     types.GroupDimension
	WindowStart time.Time
	WindowEnd   time.Time
}

// Calculate computes the attribution gap for one bounded batch of
// resources. Spend on a resource is attributable iff the resource has
// zero error-severity violations and a known cost. Resources without
// cost data are excluded from both totals and recorded on the quality
// marker; quality degrades to partial when their share exceeds 5%.
func Calculate(resources []types.Resource, violationsByARN map[string][]types.Violation, quality types.DataQuality, opts Options) types.CostAttributionResult {
	result := types.CostAttributionResult{
		TotalSpend:        decimal.Zero,
		AttributableSpend: decimal.Zero,
		DataQuality:       quality,
	}
	if opts.GroupBy != "" {
		result.Breakdown = make(map[string]types.BreakdownRow)
	}

	var missingCost []string
	for _, resource := range resources {
		result.ResourcesConsidered++
		if !resource.HasCost() {
			result.ResourcesWithoutCost++
			missingCost = append(missingCost, resource.ARN)
			continue
		}

		cost := *resource.MonthlyCost
		attributable := types.CountErrors(violationsByARN[resource.ARN]) == 0

		result.TotalSpend = result.TotalSpend.Add(cost)
		if attributable {
			result.AttributableSpend = result.AttributableSpend.Add(cost)
		}
		if result.Breakdown != nil {
			addToBreakdown(result.Breakdown, groupKey(resource, opts.GroupBy), cost, attributable)
		}
	}

	result.DataQuality = result.DataQuality.Merge(types.DataQuality{
		Status:          types.QualityComplete,
		MissingCostARNs: missingCost,
	})

	return finalize(result)
}

// Merge combines two partial results into an aggregate. It is
// associative and commutative so batch order never affects totals.
func Merge(a, b types.CostAttributionResult) types.CostAttributionResult {
	merged := types.CostAttributionResult{
		TotalSpend:           a.TotalSpend.Add(b.TotalSpend),
		AttributableSpend:    a.AttributableSpend.Add(b.AttributableSpend),
		ResourcesConsidered:  a.ResourcesConsidered + b.ResourcesConsidered,
		ResourcesWithoutCost: a.ResourcesWithoutCost + b.ResourcesWithoutCost,
		DataQuality:          a.DataQuality.Merge(b.DataQuality),
	}

	if a.Breakdown != nil || b.Breakdown != nil {
		merged.Breakdown = make(map[string]types.BreakdownRow)
		mergeBreakdown(merged.Breakdown, a.Breakdown)
		mergeBreakdown(merged.Breakdown, b.Breakdown)
	}

	return finalize(merged)
}

// finalize derives the gap, gap percentage, and quality status. Status
// is recomputed from the merged evidence (failed regions/types and the
// whole-set missing-cost share), so batch boundaries and merge order
// cannot change it: a missing-cost concentration inside one batch does
// not mark an aggregate partial when the overall share stays under the
// threshold.
func finalize(result types.CostAttributionResult) types.CostAttributionResult {
	result.AttributionGap = result.TotalSpend.Sub(result.AttributableSpend)
	if result.TotalSpend.IsPositive() {
		pct, _ := result.AttributionGap.Div(result.TotalSpend).Float64()
		result.AttributionGapPercentage = pct
	} else {
		result.AttributionGapPercentage = 0.0
	}

	result.DataQuality.Status = types.QualityComplete
	if len(result.DataQuality.FailedRegions) > 0 || len(result.DataQuality.FailedTypes) > 0 ||
		tooManyMissing(result.ResourcesWithoutCost, result.ResourcesConsidered) {
		result.DataQuality.Status = types.QualityPartial
	}
	return result
}

// groupKey derives the breakdown key for the requested dimension
func groupKey(resource types.Resource, dim types.GroupDimension) string {
	switch dim {
	case types.GroupByRegion:
		return resource.Region
	case types.GroupByAccount:
		if resource.AccountID == "" {
			return "unknown"
		}
		return resource.AccountID
	default:
		return resource.Type
	}
}

func addToBreakdown(breakdown map[string]types.BreakdownRow, key string, cost decimal.Decimal, attributable bool) {
	row := breakdown[key]
	row.TotalSpend = row.TotalSpend.Add(cost)
	if attributable {
		row.AttributableSpend = row.AttributableSpend.Add(cost)
	}
	row.AttributionGap = row.TotalSpend.Sub(row.AttributableSpend)
	breakdown[key] = row
}

func mergeBreakdown(dst, src map[string]types.BreakdownRow) {
	for key, row := range src {
		existing := dst[key]
		existing.TotalSpend = existing.TotalSpend.Add(row.TotalSpend)
		existing.AttributableSpend = existing.AttributableSpend.Add(row.AttributableSpend)
		existing.AttributionGap = existing.TotalSpend.Sub(existing.AttributableSpend)
		dst[key] = existing
	}
}

func tooManyMissing(missing, considered int) bool {
	if considered == 0 || missing == 0 {
		return false
	}
	return float64(missing)/float64(considered) > missingCostThreshold
}
