package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagvet/tagvet/policy"
	"github.com/tagvet/tagvet/types"
)

func scorerForTest(t *testing.T) *Scorer {
	t.Helper()
	p, err := policy.Parse([]byte(`{"version": "v1",
		"required_tags": [{"name": "Environment", "allowed_values": ["production", "staging"]}],
		"optional_tags": [{"name": "Project"}],
		"tag_naming_rules": {"case_sensitivity": false}}`))
	require.NoError(t, err)
	return NewScorer(p)
}

func resource(arn, env string) types.Resource {
	tags := map[string]string{}
	if env != "" {
		tags["Environment"] = env
	}
	return types.Resource{ARN: arn, Type: "ec2:instance", Region: "us-east-1", Tags: tags}
}

func TestScore_EmptySet(t *testing.T) {
	result := scorerForTest(t).Score(nil, []string{"ec2:instance"}, types.CompleteQuality())

	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, 0, result.TotalResources)
	assert.Empty(t, result.Violations)
	assert.Equal(t, types.QualityComplete, result.DataQuality.Status)
}

func TestScore_SingleInvalidResource(t *testing.T) {
	// Environment=Prod is not in the allowed set: one error, score 0.
	result := scorerForTest(t).Score(
		[]types.Resource{resource("arn:aws:ec2:us-east-1:1:instance/i-1", "Prod")},
		[]string{"ec2:instance"}, types.CompleteQuality())

	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, 0, result.CompliantResources)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, types.ViolationInvalidValue, result.Violations[0].Type)
}

func TestScore_MixedResources(t *testing.T) {
	resources := []types.Resource{
		resource("arn:aws:ec2:us-east-1:1:instance/i-1", "production"),
		resource("arn:aws:ec2:us-east-1:1:instance/i-2", "staging"),
		resource("arn:aws:ec2:us-east-1:1:instance/i-3", "dev"),
		resource("arn:aws:ec2:us-east-1:1:instance/i-4", ""),
	}

	result := scorerForTest(t).Score(resources, []string{"ec2:instance"}, types.CompleteQuality())

	assert.Equal(t, 4, result.TotalResources)
	assert.Equal(t, 2, result.CompliantResources)
	assert.InDelta(t, 0.5, result.Score, 1e-9)
	assert.Len(t, result.Violations, 2)
}

func TestScore_WarningsDoNotAffectCompliance(t *testing.T) {
	r := resource("arn:aws:ec2:us-east-1:1:instance/i-1", "production")
	r.Tags["bad!key"] = "x" // naming violation, warning only

	p, err := policy.Parse([]byte(`{"version": "v1",
		"required_tags": [{"name": "Environment", "allowed_values": ["production"]}],
		"tag_naming_rules": {"allow_special_characters": false}}`))
	require.NoError(t, err)

	result := NewScorer(p).Score([]types.Resource{r}, []string{"ec2:instance"}, types.CompleteQuality())

	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, 1, result.CompliantResources)
	// The warning is still retained in the violation list.
	require.Len(t, result.Violations, 1)
	assert.Equal(t, types.SeverityWarning, result.Violations[0].Severity)
}

func TestScore_PartialQualityPreserved(t *testing.T) {
	quality := types.PartialQuality([]string{"us-west-2"}, nil)

	result := scorerForTest(t).Score(
		[]types.Resource{resource("arn:aws:ec2:us-east-1:1:instance/i-1", "production")},
		[]string{"ec2:instance"}, quality)

	assert.Equal(t, types.QualityPartial, result.DataQuality.Status)
	assert.Equal(t, []string{"us-west-2"}, result.DataQuality.FailedRegions)
	// Score is still computed over what was retrieved.
	assert.Equal(t, 1.0, result.Score)
}

func TestScore_BoundedForAnyInput(t *testing.T) {
	scorer := scorerForTest(t)
	for _, n := range []int{0, 1, 7, 100} {
		resources := make([]types.Resource, n)
		for i := range resources {
			env := "production"
			if i%3 == 0 {
				env = "unknown"
			}
			resources[i] = resource("arn:aws:ec2:us-east-1:1:instance/i-x", env)
		}
		result := scorer.Score(resources, nil, types.CompleteQuality())
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 1.0)
	}
}
