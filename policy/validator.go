package policy

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tagvet/tagvet/types"
)

// tagNameChars are the characters permitted in tag keys and values when
// the policy disallows special characters
const tagNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 _.:/=+-@"

// Validator evaluates one resource's tags against the loaded policy.
// It is stateless and safe for concurrent use.
type Validator struct {
	policy *TaggingPolicy
}

// NewValidator creates a validator for a loaded policy
func NewValidator(p *TaggingPolicy) *Validator {
	return &Validator{policy: p}
}

// Validate evaluates a resource and returns zero or more violations.
// Violations are emitted in a fixed order for reproducibility: required
// rules in policy order, then optional rules, then naming checks.
func (v *Validator) Validate(resource types.Resource) []types.Violation {
	var violations []types.Violation

	for i := range v.policy.RequiredTags {
		rule := &v.policy.RequiredTags[i]
		if !rule.AppliesToType(resource.Type) {
			continue
		}
		violations = append(violations, v.checkRequired(resource, rule)...)
	}

	for i := range v.policy.OptionalTags {
		rule := &v.policy.OptionalTags[i]
		if !rule.AppliesToType(resource.Type) {
			continue
		}
		violations = append(violations, v.checkOptional(resource, rule)...)
	}

	violations = append(violations, v.checkNaming(resource)...)
	return violations
}

// checkRequired verifies presence and value constraints of one required rule
func (v *Validator) checkRequired(resource types.Resource, rule *TagRule) []types.Violation {
	value, present := resource.Tag(rule.Name, v.policy.NamingRules.CaseSensitivity)
	if !present {
		return []types.Violation{{
			ResourceARN: resource.ARN,
			Type:        types.ViolationMissingRequiredTag,
			TagName:     rule.Name,
			Severity:    types.SeverityError,
			Details:     fmt.Sprintf("required tag %q is missing", rule.Name),
		}}
	}
	return v.checkValue(resource, rule, value, types.SeverityError)
}

// checkOptional verifies value constraints of an optional rule. Absence
// of an optional tag is never a violation.
func (v *Validator) checkOptional(resource types.Resource, rule *TagRule) []types.Violation {
	value, present := resource.Tag(rule.Name, v.policy.NamingRules.CaseSensitivity)
	if !present {
		return nil
	}
	return v.checkValue(resource, rule, value, types.SeverityWarning)
}

// checkValue runs the allowed-value and regex checks. Both may fire
// independently for the same tag.
func (v *Validator) checkValue(resource types.Resource, rule *TagRule, value string, severity types.Severity) []types.Violation {
	var violations []types.Violation

	if !rule.ValueAllowed(value) {
		violations = append(violations, types.Violation{
			ResourceARN: resource.ARN,
			Type:        types.ViolationInvalidValue,
			TagName:     rule.Name,
			Severity:    severity,
			Details: fmt.Sprintf("value %q not in allowed set [%s]",
				value, strings.Join(rule.AllowedValues, ", ")),
		})
	}

	if !rule.MatchesRegex(value) {
		violations = append(violations, types.Violation{
			ResourceARN: resource.ARN,
			Type:        types.ViolationInvalidRegexMatch,
			TagName:     rule.Name,
			Severity:    severity,
			Details: fmt.Sprintf("value %q does not match pattern %q",
				value, rule.ValidationRegex),
		})
	}

	return violations
}

// checkNaming applies naming rules to every tag present on the resource,
// regardless of policy membership. Keys are visited in sorted order.
func (v *Validator) checkNaming(resource types.Resource) []types.Violation {
	rules := v.policy.NamingRules

	keys := make([]string, 0, len(resource.Tags))
	for k := range resource.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var violations []types.Violation
	for _, key := range keys {
		value := resource.Tags[key]

		// Lengths count characters, not bytes, so multibyte values are
		// not over-counted.
		if keyLen := utf8.RuneCountInString(key); keyLen > rules.MaxKeyLength {
			violations = append(violations, namingViolation(resource.ARN, key,
				fmt.Sprintf("key length %d exceeds maximum %d", keyLen, rules.MaxKeyLength)))
		}
		if valueLen := utf8.RuneCountInString(value); valueLen > rules.MaxValueLength {
			violations = append(violations, namingViolation(resource.ARN, key,
				fmt.Sprintf("value length %d exceeds maximum %d", valueLen, rules.MaxValueLength)))
		}
		if !rules.AllowSpecialCharacters {
			if bad := firstDisallowedChar(key); bad != "" {
				violations = append(violations, namingViolation(resource.ARN, key,
					fmt.Sprintf("key contains disallowed character %q", bad)))
			}
			if bad := firstDisallowedChar(value); bad != "" {
				violations = append(violations, namingViolation(resource.ARN, key,
					fmt.Sprintf("value contains disallowed character %q", bad)))
			}
		}
	}
	return violations
}

func namingViolation(arn, tagName, details string) types.Violation {
	return types.Violation{
		ResourceARN: arn,
		Type:        types.ViolationNaming,
		TagName:     tagName,
		Severity:    types.SeverityWarning,
		Details:     details,
	}
}

// firstDisallowedChar returns the first character outside the permitted
// tag character set, or empty when the string is clean
func firstDisallowedChar(s string) string {
	for _, r := range s {
		if !strings.ContainsRune(tagNameChars, r) {
			return string(r)
		}
	}
	return ""
}
