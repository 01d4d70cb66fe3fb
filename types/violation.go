package types

// ViolationType categorizes tag policy violations
type ViolationType string

const (
	ViolationMissingRequiredTag ViolationType = "missing_required_tag"
	ViolationInvalidValue       ViolationType = "invalid_value"
	ViolationInvalidRegexMatch  ViolationType = "invalid_regex_match"
	ViolationNaming             ViolationType = "naming_violation"
)

// Severity of a violation. Only errors affect compliance.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation records one failed check for one resource tag
type Violation struct {
	ResourceARN string        `json:"resource_arn"`
	Type        ViolationType `json:"type"`
	TagName     string        `json:"tag_name"`
	Severity    Severity      `json:"severity"`
	Details     string        `json:"details,omitempty"`
}

// IsError reports whether this violation makes a resource non-compliant
func (v Violation) IsError() bool {
	return v.Severity == SeverityError
}

// CountErrors returns the number of error-severity violations
func CountErrors(violations []Violation) int {
	n := 0
	for _, v := range violations {
		if v.IsError() {
			n++
		}
	}
	return n
}
