package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagvet/tagvet/attribution"
	"github.com/tagvet/tagvet/audit"
	"github.com/tagvet/tagvet/gateway"
	"github.com/tagvet/tagvet/storage"
	"github.com/tagvet/tagvet/types"
)

const testPolicy = `{
  "version": "2026-08-01",
  "required_tags": [
    {"name": "Environment", "allowed_values": ["production", "staging"]},
    {"name": "Owner", "validation_regex": "[a-z]+@example\\.com"}
  ],
  "optional_tags": [
    {"name": "CostCenter"}
  ],
  "tag_naming_rules": {"case_sensitivity": false, "allow_special_characters": true}
}`

type stubInventory struct {
	resources map[string][]types.Resource
	err       error
}

func (s *stubInventory) FetchResources(_ context.Context, resourceTypes []string, region string) ([]types.Resource, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []types.Resource
	for _, r := range s.resources[region] {
		for _, t := range resourceTypes {
			if r.Type == t {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type stubCost struct {
	costs map[string]decimal.Decimal
}

func (s *stubCost) FetchCosts(_ context.Context, arns []string, _, _ time.Time) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, arn := range arns {
		if c, ok := s.costs[arn]; ok {
			out[arn] = c
		}
	}
	return out, nil
}

func writePolicy(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func newTestEngine(t *testing.T, inventory gateway.InventoryGateway, cost gateway.CostGateway) (*Engine, *gateway.Fetcher, storage.History) {
	t.Helper()

	fetcher := gateway.NewFetcher(inventory, cost, gateway.FetcherConfig{MaxAttempts: 2})
	history, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	auditLog, err := audit.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLog.Close() })

	eng, err := New(Config{
		PolicyPath:   writePolicy(t, testPolicy),
		Regions:      []string{"us-east-1"},
		LookbackDays: 30,
	}, fetcher, history, auditLog)
	require.NoError(t, err)
	return eng, fetcher, history
}

func taggedInstance(arn string, tags map[string]string) types.Resource {
	return types.Resource{ARN: arn, Type: "ec2:instance", Region: "us-east-1", Tags: tags}
}

func TestScanCompliance_RecordsSnapshot(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{
		"us-east-1": {
			taggedInstance("arn:a", map[string]string{"Environment": "production", "Owner": "ops@example.com"}),
			taggedInstance("arn:b", map[string]string{"Environment": "Prod"}),
		},
	}}
	eng, _, history := newTestEngine(t, inventory, &stubCost{})

	result, err := eng.ScanCompliance(context.Background(), []string{"ec2:instance"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalResources)
	assert.Equal(t, 1, result.CompliantResources)
	assert.InDelta(t, 0.5, result.Score, 1e-9)
	assert.Equal(t, types.QualityComplete, result.DataQuality.Status)

	snapshot, err := history.LatestSnapshot(context.Background(), []string{"ec2:instance"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, snapshot, "scan should persist a snapshot")
	assert.Equal(t, "production", snapshot.TagState["arn:a"]["Environment"])
}

func TestScanCompliance_AllRegionsFailed(t *testing.T) {
	inventory := &stubInventory{err: errors.New("api down")}
	eng, _, _ := newTestEngine(t, inventory, &stubCost{})

	_, err := eng.ScanCompliance(context.Background(), []string{"ec2:instance"})
	assert.ErrorIs(t, err, gateway.ErrAllRegionsFailed)
}

func TestDetectDrift_AgainstSnapshotBaseline(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{
		"us-east-1": {
			taggedInstance("arn:a", map[string]string{"Environment": "production", "Owner": "ops@example.com"}),
		},
	}}
	eng, fetcher, history := newTestEngine(t, inventory, &stubCost{})

	_, err := eng.ScanCompliance(context.Background(), []string{"ec2:instance"})
	require.NoError(t, err)

	// The resource loses its required Environment tag after the scan.
	inventory.resources["us-east-1"] = []types.Resource{
		taggedInstance("arn:a", map[string]string{"Owner": "ops@example.com"}),
	}
	fetcher.InvalidateCaches()

	events, err := eng.DetectDrift(context.Background(), []string{"ec2:instance"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Environment", events[0].TagName)
	assert.Equal(t, types.DriftCritical, events[0].Severity)
	assert.Equal(t, "production", events[0].PreviousValue)

	stored, err := history.QueryDriftEventsSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, stored, 1, "detected events should be persisted")
}

func TestDetectDrift_PolicyBaselineWhenNoSnapshot(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{
		"us-east-1": {
			taggedInstance("arn:a", map[string]string{"Owner": "ops@example.com"}),
		},
	}}
	eng, _, _ := newTestEngine(t, inventory, &stubCost{})

	events, err := eng.DetectDrift(context.Background(), []string{"ec2:instance"})
	require.NoError(t, err)
	require.Len(t, events, 1, "missing required tag against the policy expectation")
	assert.Equal(t, "Environment", events[0].TagName)
	assert.Equal(t, types.DriftCritical, events[0].Severity)
}

func TestCostAttribution_GapFromViolations(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{
		"us-east-1": {
			taggedInstance("arn:good", map[string]string{"Environment": "production", "Owner": "ops@example.com"}),
			taggedInstance("arn:bad", map[string]string{}),
		},
	}}
	cost := &stubCost{costs: map[string]decimal.Decimal{
		"arn:good": decimal.RequireFromString("600"),
		"arn:bad":  decimal.RequireFromString("400"),
	}}
	eng, _, _ := newTestEngine(t, inventory, cost)

	result, err := eng.CostAttribution(context.Background(), []string{"ec2:instance"}, attribution.Options{
		WindowStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.True(t, result.TotalSpend.Equal(decimal.RequireFromString("1000")))
	assert.True(t, result.AttributableSpend.Equal(decimal.RequireFromString("600")))
	assert.True(t, result.AttributionGap.Equal(decimal.RequireFromString("400")))
	assert.InDelta(t, 0.4, result.AttributionGapPercentage, 1e-9)
}

func TestTrend_AggregatesScans(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{
		"us-east-1": {
			taggedInstance("arn:a", map[string]string{"Environment": "production", "Owner": "ops@example.com"}),
		},
	}}
	eng, _, _ := newTestEngine(t, inventory, &stubCost{})

	_, err := eng.ScanCompliance(context.Background(), []string{"ec2:instance"})
	require.NoError(t, err)

	points, err := eng.Trend(context.Background(), storage.TrendQuery{SinceDays: 7, GroupBy: storage.GroupByDay})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 1, points[0].Snapshots)
	assert.InDelta(t, 1.0, points[0].AverageScore, 1e-9)
}

func TestReloadPolicy_RejectsInvalidDocumentKeepsOld(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{}}
	eng, _, _ := newTestEngine(t, inventory, &stubCost{})

	// Corrupt the policy file on disk, then attempt a reload.
	require.NoError(t, os.WriteFile(eng.cfg.PolicyPath, []byte(`{"version": ""}`), 0644))

	err := eng.ReloadPolicy(context.Background())
	require.Error(t, err)
	assert.Equal(t, "2026-08-01", eng.Policy().Version, "previous policy stays active")
}

func TestReloadPolicy_InvalidatesCaches(t *testing.T) {
	inventory := &stubInventory{resources: map[string][]types.Resource{
		"us-east-1": {taggedInstance("arn:a", map[string]string{"Environment": "production", "Owner": "ops@example.com"})},
	}}
	eng, fetcher, _ := newTestEngine(t, inventory, &stubCost{})

	_, err := eng.ScanCompliance(context.Background(), []string{"ec2:instance"})
	require.NoError(t, err)

	require.NoError(t, eng.ReloadPolicy(context.Background()))
	assert.Equal(t, 0, fetcher.InvalidateCaches(), "reload should have emptied the caches already")
}
