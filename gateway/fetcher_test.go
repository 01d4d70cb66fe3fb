package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagvet/tagvet/types"
)

// fakeInventory serves canned resources per region and counts calls
type fakeInventory struct {
	mu           sync.Mutex
	byRegion     map[string][]types.Resource
	failRegions  map[string]error
	failuresLeft map[string]int
	blockRegions map[string]bool
	calls        int
}

func (f *fakeInventory) FetchResources(ctx context.Context, resourceTypes []string, region string) ([]types.Resource, error) {
	f.mu.Lock()
	f.calls++
	if left, ok := f.failuresLeft[region]; ok && left > 0 {
		f.failuresLeft[region] = left - 1
		f.mu.Unlock()
		return nil, errors.New("throttled")
	}
	failErr := f.failRegions[region]
	blocked := f.blockRegions[region]
	resources := f.byRegion[region]
	f.mu.Unlock()

	if blocked {
		// Hangs until the caller's deadline, like a stalled upstream.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failErr != nil {
		return nil, failErr
	}
	var out []types.Resource
	for _, r := range resources {
		for _, t := range resourceTypes {
			if r.Type == t {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type fakeCost struct {
	mu          sync.Mutex
	costs       map[string]decimal.Decimal
	failRegions map[string]bool
	calls       int
}

func (f *fakeCost) FetchCosts(_ context.Context, arns []string, _, _ time.Time) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]decimal.Decimal)
	for _, arn := range arns {
		if c, ok := f.costs[arn]; ok {
			out[arn] = c
		}
	}
	return out, nil
}

func ec2Resource(arn, region string) types.Resource {
	return types.Resource{ARN: arn, Type: "ec2:instance", Region: region, Tags: map[string]string{}}
}

func TestFetchInventory_PartialRegionFailure(t *testing.T) {
	inventory := &fakeInventory{
		byRegion: map[string][]types.Resource{
			"us-east-1": {ec2Resource("arn:east-1", "us-east-1")},
		},
		failRegions: map[string]error{"us-west-2": errors.New("unavailable")},
	}
	f := NewFetcher(inventory, &fakeCost{}, FetcherConfig{MaxAttempts: 2})

	resources, quality, err := f.FetchInventory(context.Background(),
		[]string{"ec2:instance"}, []string{"us-east-1", "us-west-2"})

	require.NoError(t, err, "a failed subset must not fail the call")
	require.Len(t, resources, 1)
	assert.Equal(t, "arn:east-1", resources[0].ARN)
	assert.Equal(t, types.QualityPartial, quality.Status)
	assert.Contains(t, quality.FailedRegions, "us-west-2")
}

func TestFetchInventory_AllRegionsFailed(t *testing.T) {
	inventory := &fakeInventory{
		failRegions: map[string]error{
			"us-east-1": errors.New("down"),
			"us-west-2": errors.New("down"),
		},
	}
	f := NewFetcher(inventory, &fakeCost{}, FetcherConfig{MaxAttempts: 2})

	_, quality, err := f.FetchInventory(context.Background(),
		[]string{"ec2:instance"}, []string{"us-east-1", "us-west-2"})

	assert.ErrorIs(t, err, ErrAllRegionsFailed)
	assert.Equal(t, types.QualityPartial, quality.Status)
}

func TestFetchInventory_RetryOnTransientFailure(t *testing.T) {
	inventory := &fakeInventory{
		byRegion: map[string][]types.Resource{
			"us-east-1": {ec2Resource("arn:a", "us-east-1")},
		},
		failuresLeft: map[string]int{"us-east-1": 1},
	}
	f := NewFetcher(inventory, &fakeCost{}, FetcherConfig{MaxAttempts: 3})

	resources, quality, err := f.FetchInventory(context.Background(),
		[]string{"ec2:instance"}, []string{"us-east-1"})

	require.NoError(t, err)
	assert.Len(t, resources, 1)
	assert.Equal(t, types.QualityComplete, quality.Status)
}

func TestFetchInventory_TimeoutKeepsCompletedRegions(t *testing.T) {
	inventory := &fakeInventory{
		byRegion: map[string][]types.Resource{
			"us-east-1": {ec2Resource("arn:east-1", "us-east-1")},
		},
		blockRegions: map[string]bool{"us-west-2": true},
	}
	f := NewFetcher(inventory, &fakeCost{}, FetcherConfig{MaxAttempts: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	resources, quality, err := f.FetchInventory(ctx,
		[]string{"ec2:instance"}, []string{"us-east-1", "us-west-2"})

	require.NoError(t, err, "a timed-out subset must not discard the whole call")
	require.Len(t, resources, 1, "completed region results are kept")
	assert.Equal(t, "arn:east-1", resources[0].ARN)
	assert.Equal(t, types.QualityPartial, quality.Status)
	assert.Contains(t, quality.FailedRegions, "us-west-2")
	assert.NotContains(t, quality.FailedRegions, "us-east-1")
}

func TestFetchInventory_CacheHitSkipsGateway(t *testing.T) {
	inventory := &fakeInventory{
		byRegion: map[string][]types.Resource{
			"us-east-1": {ec2Resource("arn:a", "us-east-1")},
		},
	}
	f := NewFetcher(inventory, &fakeCost{}, FetcherConfig{})

	_, _, err := f.FetchInventory(context.Background(), []string{"ec2:instance"}, []string{"us-east-1"})
	require.NoError(t, err)
	callsAfterFirst := inventory.calls

	resources, _, err := f.FetchInventory(context.Background(), []string{"ec2:instance"}, []string{"us-east-1"})
	require.NoError(t, err)
	assert.Len(t, resources, 1)
	assert.Equal(t, callsAfterFirst, inventory.calls, "second fetch should be served from cache")

	f.InvalidateCaches()
	_, _, err = f.FetchInventory(context.Background(), []string{"ec2:instance"}, []string{"us-east-1"})
	require.NoError(t, err)
	assert.Greater(t, inventory.calls, callsAfterFirst, "invalidation should force a refetch")
}

func TestFetchInventory_BatchCeiling(t *testing.T) {
	manyTypes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	inventory := &fakeInventory{byRegion: map[string][]types.Resource{}}
	f := NewFetcher(inventory, &fakeCost{}, FetcherConfig{BatchSize: 100})

	_, _, err := f.FetchInventory(context.Background(), manyTypes, []string{"us-east-1"})
	require.NoError(t, err)
	// BatchSize clamps to 6, so 8 types need 2 calls.
	assert.Equal(t, 2, inventory.calls)
}

func TestChunkTypes(t *testing.T) {
	chunks := chunkTypes([]string{"a", "b", "c", "d", "e", "f", "g"}, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, chunks[0])
	assert.Equal(t, []string{"g"}, chunks[2])
}

func TestAttachCosts(t *testing.T) {
	cost := &fakeCost{costs: map[string]decimal.Decimal{
		"arn:a": decimal.RequireFromString("12.5"),
	}}
	f := NewFetcher(&fakeInventory{}, cost, FetcherConfig{})

	resources := []types.Resource{
		ec2Resource("arn:a", "us-east-1"),
		ec2Resource("arn:b", "us-east-1"),
	}
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	withCosts, quality := f.AttachCosts(context.Background(), resources, start, end)

	require.Len(t, withCosts, 2)
	assert.Equal(t, types.QualityComplete, quality.Status)
	byARN := types.BuildResourceMap(withCosts)
	require.True(t, byARN["arn:a"].HasCost())
	assert.True(t, byARN["arn:a"].MonthlyCost.Equal(decimal.RequireFromString("12.5")))
	assert.False(t, byARN["arn:b"].HasCost(), "unknown cost stays null")
}

func TestAttachCosts_WindowedCaching(t *testing.T) {
	cost := &fakeCost{costs: map[string]decimal.Decimal{"arn:a": decimal.RequireFromString("1")}}
	f := NewFetcher(&fakeInventory{}, cost, FetcherConfig{})
	resources := []types.Resource{ec2Resource("arn:a", "us-east-1")}

	aug1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	aug31 := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	jul1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	f.AttachCosts(context.Background(), resources, aug1, aug31)
	f.AttachCosts(context.Background(), resources, aug1, aug31)
	assert.Equal(t, 1, cost.calls, "same window should be cached")

	f.AttachCosts(context.Background(), resources, jul1, aug1)
	assert.Equal(t, 2, cost.calls, "different window is a different key")
}
