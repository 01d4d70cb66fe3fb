// Package compliance aggregates per-resource validation results into a
// bounded score and violation summary, tracking data-quality completeness.
package compliance

import (
	"sort"

	"github.com/tagvet/tagvet/policy"
	"github.com/tagvet/tagvet/types"
)

// Scorer computes compliance results over validated resources
type Scorer struct {
	validator *policy.Validator
}

// NewScorer creates a scorer bound to a loaded policy
func NewScorer(p *policy.TaggingPolicy) *Scorer {
	return &Scorer{validator: policy.NewValidator(p)}
}

// Score validates every resource and aggregates the outcome. A resource
// is compliant iff it has zero error-severity violations. The score is
// defined as 1.0 for an empty resource set and is clamped to [0, 1].
//
// The quality marker is passed through untouched: a partial fetch never
// becomes a complete result here.
func (s *Scorer) Score(resources []types.Resource, scannedTypes []string, quality types.DataQuality) types.ComplianceResult {
	result := types.ComplianceResult{
		ScannedResourceTypes: sortedCopy(scannedTypes),
		TotalResources:       len(resources),
		Violations:           []types.Violation{},
		DataQuality:          quality,
	}

	for _, resource := range resources {
		violations := s.validator.Validate(resource)
		if types.CountErrors(violations) == 0 {
			result.CompliantResources++
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.Score = clampScore(result.CompliantResources, result.TotalResources)
	return result
}

// ValidateAll returns per-resource violations keyed by ARN, in the fixed
// per-resource order the validator guarantees
func (s *Scorer) ValidateAll(resources []types.Resource) map[string][]types.Violation {
	byARN := make(map[string][]types.Violation, len(resources))
	for _, resource := range resources {
		byARN[resource.ARN] = s.validator.Validate(resource)
	}
	return byARN
}

// clampScore computes compliant/total bounded to [0, 1], with an empty
// set scoring 1.0 since there is nothing to fail
func clampScore(compliant, total int) float64 {
	if total == 0 {
		return 1.0
	}
	score := float64(compliant) / float64(total)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}
