// Package drift compares a current resource snapshot against a prior
// stored snapshot, or the static policy expectation, and classifies tag
// transitions by severity.
package drift

import (
	"sort"
	"time"

	"github.com/tagvet/tagvet/policy"
	"github.com/tagvet/tagvet/types"
)

// Detector classifies tag drift between two points in time
type Detector struct {
	policy *policy.TaggingPolicy
	now    func() time.Time
}

// NewDetector creates a detector bound to a loaded policy
func NewDetector(p *policy.TaggingPolicy) *Detector {
	return &Detector{policy: p, now: time.Now}
}

// DetectAgainstSnapshot compares current resources with the tag state a
// prior snapshot recorded. Drift is strictly about tag transitions on
// resources present in both states: newly created and deleted resources
// are not drift events. Only tags named by the policy participate.
//
// Events are emitted per resource in ARN order, tags in policy rule
// order, so identical inputs produce identical output.
func (d *Detector) DetectAgainstSnapshot(current []types.Resource, baseline *types.Snapshot) []types.DriftEvent {
	detectedAt := d.now()
	var events []types.DriftEvent

	for _, resource := range sortByARN(current) {
		previousTags, existed := baseline.TagState[resource.ARN]
		if !existed {
			continue
		}
		events = append(events, d.compareTags(resource, previousTags, detectedAt)...)
	}
	return events
}

// DetectAgainstPolicy evaluates current resources against the static
// policy expectation, used when no baseline snapshot exists within the
// lookback window. A required tag absent now is critical drift from the
// expected state.
func (d *Detector) DetectAgainstPolicy(current []types.Resource) []types.DriftEvent {
	detectedAt := d.now()
	var events []types.DriftEvent

	for _, resource := range sortByARN(current) {
		for i := range d.policy.RequiredTags {
			rule := &d.policy.RequiredTags[i]
			if !rule.AppliesToType(resource.Type) {
				continue
			}
			if _, present := resource.Tag(rule.Name, d.policy.NamingRules.CaseSensitivity); !present {
				events = append(events, types.DriftEvent{
					ResourceARN:   resource.ARN,
					TagName:       rule.Name,
					PreviousValue: "",
					CurrentValue:  "",
					Severity:      types.DriftCritical,
					DetectedAt:    detectedAt,
				})
			}
		}
	}
	return events
}

// compareTags walks the policy's rules in order and emits one event per
// transitioned tag
func (d *Detector) compareTags(resource types.Resource, previousTags map[string]string, detectedAt time.Time) []types.DriftEvent {
	var events []types.DriftEvent

	emit := func(name string, required bool) {
		prev, hadBefore := lookupTag(previousTags, name, d.policy.NamingRules.CaseSensitivity)
		curr, hasNow := resource.Tag(name, d.policy.NamingRules.CaseSensitivity)

		if !hadBefore && !hasNow {
			return
		}
		if hadBefore && hasNow && d.policy.SameValue(prev, curr) {
			return
		}

		severity := types.DriftInfo
		if required {
			// A previously-present required tag now absent is critical;
			// any other required-tag transition is a warning.
			if hadBefore && !hasNow {
				severity = types.DriftCritical
			} else {
				severity = types.DriftWarning
			}
		}

		events = append(events, types.DriftEvent{
			ResourceARN:   resource.ARN,
			TagName:       name,
			PreviousValue: prev,
			CurrentValue:  curr,
			Severity:      severity,
			DetectedAt:    detectedAt,
		})
	}

	for i := range d.policy.RequiredTags {
		if d.policy.RequiredTags[i].AppliesToType(resource.Type) {
			emit(d.policy.RequiredTags[i].Name, true)
		}
	}
	for i := range d.policy.OptionalTags {
		if d.policy.OptionalTags[i].AppliesToType(resource.Type) {
			emit(d.policy.OptionalTags[i].Name, false)
		}
	}
	return events
}

func lookupTag(tags map[string]string, name string, caseSensitive bool) (string, bool) {
	r := types.Resource{Tags: tags}
	return r.Tag(name, caseSensitive)
}

func sortByARN(resources []types.Resource) []types.Resource {
	out := append([]types.Resource{}, resources...)
	sort.Slice(out, func(i, j int) bool { return out[i].ARN < out[j].ARN })
	return out
}
