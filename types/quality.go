package types

import "sort"

// QualityStatus marks whether an aggregate reflects every requested
// region/type or only a subset due to upstream failure
type QualityStatus string

const (
	QualityComplete QualityStatus = "complete"
	QualityPartial  QualityStatus = "partial"
)

// DataQuality is propagated with every aggregate result. The engine never
// degrades a partial result into a complete one.
type DataQuality struct {
	Status          QualityStatus `json:"status"`
	FailedRegions   []string      `json:"failed_regions,omitempty"`
	FailedTypes     []string      `json:"failed_types,omitempty"`
	MissingCostARNs []string      `json:"missing_cost_arns,omitempty"`
}

// CompleteQuality returns a quality marker with no recorded failures
func CompleteQuality() DataQuality {
	return DataQuality{Status: QualityComplete}
}

// PartialQuality returns a quality marker for failed regions/types
func PartialQuality(regions, resourceTypes []string) DataQuality {
	return DataQuality{
		Status:        QualityPartial,
		FailedRegions: dedupe(regions),
		FailedTypes:   dedupe(resourceTypes),
	}
}

// IsComplete reports whether no upstream failure was recorded
func (q DataQuality) IsComplete() bool {
	return q.Status == QualityComplete
}

// Merge unions two quality markers. The merge is associative and
// commutative so batch order never affects the final marker.
func (q DataQuality) Merge(other DataQuality) DataQuality {
	merged := DataQuality{
		Status:          QualityComplete,
		FailedRegions:   dedupe(append(append([]string{}, q.FailedRegions...), other.FailedRegions...)),
		FailedTypes:     dedupe(append(append([]string{}, q.FailedTypes...), other.FailedTypes...)),
		MissingCostARNs: dedupe(append(append([]string{}, q.MissingCostARNs...), other.MissingCostARNs...)),
	}
	if q.Status == QualityPartial || other.Status == QualityPartial {
		merged.Status = QualityPartial
	}
	return merged
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
