package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComplianceResult aggregates per-resource validation outcomes
type ComplianceResult struct {
	ScannedResourceTypes []string    `json:"scanned_resource_types"`
	TotalResources       int         `json:"total_resources"`
	CompliantResources   int         `json:"compliant_resources"`
	Violations           []Violation `json:"violations"`
	Score                float64     `json:"score"`
	DataQuality          DataQuality `json:"data_quality"`
}

// ViolationCounts tallies violations by type
func (r ComplianceResult) ViolationCounts() map[ViolationType]int {
	counts := make(map[ViolationType]int)
	for _, v := range r.Violations {
		counts[v.Type]++
	}
	return counts
}

// GroupDimension for cost attribution breakdowns
type GroupDimension string

const (
	GroupByResourceType GroupDimension = "resource_type"
	GroupByRegion       GroupDimension = "region"
	GroupByAccount      GroupDimension = "account"
)

// BreakdownRow holds per-group spend figures
type BreakdownRow struct {
	TotalSpend        decimal.Decimal `json:"total_spend"`
	AttributableSpend decimal.Decimal `json:"attributable_spend"`
	AttributionGap    decimal.Decimal `json:"attribution_gap"`
}

// CostAttributionResult joins compliance state with spend.
// AttributionGap is always TotalSpend minus AttributableSpend.
type CostAttributionResult struct {
	TotalSpend               decimal.Decimal         `json:"total_spend"`
	AttributableSpend        decimal.Decimal         `json:"attributable_spend"`
	AttributionGap           decimal.Decimal         `json:"attribution_gap"`
	AttributionGapPercentage float64                 `json:"attribution_gap_percentage"`
	Breakdown                map[string]BreakdownRow `json:"breakdown,omitempty"`
	ResourcesConsidered      int                     `json:"resources_considered"`
	ResourcesWithoutCost     int                     `json:"resources_without_cost"`
	DataQuality              DataQuality             `json:"data_quality"`
}

// DriftSeverity classifies a tag transition
type DriftSeverity string

const (
	DriftCritical DriftSeverity = "critical"
	DriftWarning  DriftSeverity = "warning"
	DriftInfo     DriftSeverity = "info"
)

// DriftEvent records a tag value transition on a persisting resource
type DriftEvent struct {
	ResourceARN   string        `json:"resource_arn"`
	TagName       string        `json:"tag_name"`
	PreviousValue string        `json:"previous_value"`
	CurrentValue  string        `json:"current_value"`
	Severity      DriftSeverity `json:"severity"`
	DetectedAt    time.Time     `json:"detected_at"`
}

// Snapshot is an immutable point-in-time capture of a compliance result
// plus the resource tag state it was computed from
type Snapshot struct {
	Timestamp            time.Time                    `json:"timestamp"`
	ScannedResourceTypes []string                     `json:"scanned_resource_types"`
	Result               ComplianceResult             `json:"result"`
	TagState             map[string]map[string]string `json:"tag_state"`
}

// TrendPoint is one aggregated bucket of a history query
type TrendPoint struct {
	Bucket          time.Time             `json:"bucket"`
	Snapshots       int                   `json:"snapshots"`
	AverageScore    float64               `json:"average_score"`
	ViolationCounts map[ViolationType]int `json:"violation_counts"`
	TotalResources  int                   `json:"total_resources"`
}
