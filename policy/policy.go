package policy

import (
	"regexp"
	"sort"
	"strings"
)

// TagRule is a named constraint on resource tags, scoped to resource types.
// An empty AppliesTo set means the rule is universal.
type TagRule struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	AllowedValues   []string `json:"allowed_values,omitempty"`
	ValidationRegex string   `json:"validation_regex,omitempty"`
	AppliesTo       []string `json:"applies_to,omitempty"`

	// Compiled once at load, reused for every resource.
	compiled   *regexp.Regexp
	allowedSet map[string]struct{}
}

// NamingRules constrain every tag present on a resource, regardless of
// whether the policy names it
type NamingRules struct {
	CaseSensitivity        bool `json:"case_sensitivity"`
	AllowSpecialCharacters bool `json:"allow_special_characters"`
	MaxKeyLength           int  `json:"max_key_length"`
	MaxValueLength         int  `json:"max_value_length"`
}

// TaggingPolicy is the organization's tagging policy document. It is
// loaded once, validated, and immutable until an explicit reload.
type TaggingPolicy struct {
	Version      string      `json:"version"`
	RequiredTags []TagRule   `json:"required_tags"`
	OptionalTags []TagRule   `json:"optional_tags,omitempty"`
	NamingRules  NamingRules `json:"tag_naming_rules"`
}

// AppliesToType reports whether the rule applies to a resource type
func (r *TagRule) AppliesToType(resourceType string) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, t := range r.AppliesTo {
		if t == resourceType {
			return true
		}
	}
	return false
}

// ValueAllowed reports whether a tag value is in the allowed set.
// Membership is case-sensitive; an empty set allows everything.
func (r *TagRule) ValueAllowed(value string) bool {
	if len(r.allowedSet) == 0 {
		return true
	}
	_, ok := r.allowedSet[value]
	return ok
}

// MatchesRegex reports whether a tag value fully matches the rule's
// validation regex. A rule without a regex matches everything.
func (r *TagRule) MatchesRegex(value string) bool {
	if r.compiled == nil {
		return true
	}
	return r.compiled.MatchString(value)
}

// scopesOverlap reports whether two applies_to scopes share a resource
// type. An empty scope is universal and overlaps anything.
func scopesOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// Closure returns the sorted set of resource types named anywhere in the
// policy's applies_to scopes
func (p *TaggingPolicy) Closure() []string {
	set := make(map[string]struct{})
	for _, rule := range p.RequiredTags {
		for _, t := range rule.AppliesTo {
			set[t] = struct{}{}
		}
	}
	for _, rule := range p.OptionalTags {
		for _, t := range rule.AppliesTo {
			set[t] = struct{}{}
		}
	}
	closure := make([]string, 0, len(set))
	for t := range set {
		closure = append(closure, t)
	}
	sort.Strings(closure)
	return closure
}

// HasUniversalRules reports whether any rule applies to all resource
// types, making the closure open
func (p *TaggingPolicy) HasUniversalRules() bool {
	for _, rule := range p.RequiredTags {
		if len(rule.AppliesTo) == 0 {
			return true
		}
	}
	for _, rule := range p.OptionalTags {
		if len(rule.AppliesTo) == 0 {
			return true
		}
	}
	return false
}

// Covers reports whether a resource type is inside the policy closure
func (p *TaggingPolicy) Covers(resourceType string) bool {
	if p.HasUniversalRules() {
		return true
	}
	for _, t := range p.Closure() {
		if t == resourceType {
			return true
		}
	}
	return false
}

// IsPolicyTag reports whether a tag name belongs to the policy's
// required or optional rule set. Drift on unrecognized tags is ignored.
func (p *TaggingPolicy) IsPolicyTag(name string) bool {
	return p.findRule(name) != nil
}

// RequiredForType returns the names of required tags for a resource type
func (p *TaggingPolicy) RequiredForType(resourceType string) []string {
	var names []string
	for i := range p.RequiredTags {
		if p.RequiredTags[i].AppliesToType(resourceType) {
			names = append(names, p.RequiredTags[i].Name)
		}
	}
	return names
}

// findRule locates a rule by tag name, required before optional,
// honoring key case sensitivity
func (p *TaggingPolicy) findRule(name string) *TagRule {
	for i := range p.RequiredTags {
		if p.sameKey(p.RequiredTags[i].Name, name) {
			return &p.RequiredTags[i]
		}
	}
	for i := range p.OptionalTags {
		if p.sameKey(p.OptionalTags[i].Name, name) {
			return &p.OptionalTags[i]
		}
	}
	return nil
}

// IsRequiredTag reports whether a tag name is a required rule
func (p *TaggingPolicy) IsRequiredTag(name string) bool {
	for i := range p.RequiredTags {
		if p.sameKey(p.RequiredTags[i].Name, name) {
			return true
		}
	}
	return false
}

// sameKey compares tag keys per the policy's case sensitivity rule
func (p *TaggingPolicy) sameKey(a, b string) bool {
	if p.NamingRules.CaseSensitivity {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// SameValue compares tag values per the policy's case sensitivity rule.
// Used by drift detection; allowed-value membership stays case-sensitive.
func (p *TaggingPolicy) SameValue(a, b string) bool {
	if p.NamingRules.CaseSensitivity {
		return a == b
	}
	return strings.EqualFold(a, b)
}
