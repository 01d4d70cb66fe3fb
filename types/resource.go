package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Resource represents a tagged cloud resource (EC2, RDS, S3, etc)
type Resource struct {
	ARN         string            `json:"arn"`
	Type        string            `json:"type"`
	Region      string            `json:"region"`
	AccountID   string            `json:"account_id,omitempty"`
	Tags        map[string]string `json:"tags"`
	MonthlyCost *decimal.Decimal  `json:"monthly_cost,omitempty"`
	ObservedAt  time.Time         `json:"observed_at"`
}

// ResourceFilter narrows an inventory fetch
type ResourceFilter struct {
	Types     []string `json:"types,omitempty"`
	Regions   []string `json:"regions,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
}

// HasCost reports whether cost data was obtained for this resource
func (r Resource) HasCost() bool {
	return r.MonthlyCost != nil
}

// Tag returns a tag value, optionally matching the key case-insensitively.
// The bool reports presence; an empty tag value is still present.
func (r *Resource) Tag(key string, caseSensitive bool) (string, bool) {
	if r.Tags == nil {
		return "", false
	}
	if caseSensitive {
		v, ok := r.Tags[key]
		return v, ok
	}
	for k, v := range r.Tags {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// ValidateARN checks the resource identifier is a parseable ARN.
// Malformed identifiers are reported per resource, never abort a batch.
func (r *Resource) ValidateARN() error {
	if r.ARN == "" {
		return fmt.Errorf("empty resource arn")
	}
	parts := strings.SplitN(r.ARN, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" {
		return fmt.Errorf("malformed arn %q", r.ARN)
	}
	return nil
}

// BuildResourceMap converts a slice of resources to a map keyed by ARN
func BuildResourceMap(resources []Resource) map[string]Resource {
	resourceMap := make(map[string]Resource, len(resources))
	for _, resource := range resources {
		resourceMap[resource.ARN] = resource
	}
	return resourceMap
}
