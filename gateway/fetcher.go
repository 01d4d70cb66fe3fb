package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tagvet/tagvet/cache"
	"github.com/tagvet/tagvet/telemetry"
	"github.com/tagvet/tagvet/types"
)

const (
	// Batch ceiling per upstream call, to respect rate limits.
	minBatchSize = 3
	maxBatchSize = 6

	defaultMaxAttempts  = 3
	defaultInventoryTTL = 5 * time.Minute
	defaultCostTTL      = 6 * time.Hour
	defaultConcurrency  = 4
)

// FetcherConfig tunes batching, retries, and cache TTLs
type FetcherConfig struct {
	BatchSize    int
	MaxAttempts  int
	InventoryTTL time.Duration
	CostTTL      time.Duration
	Concurrency  int
}

func (c *FetcherConfig) applyDefaults() {
	if c.BatchSize < minBatchSize {
		c.BatchSize = minBatchSize
	}
	if c.BatchSize > maxBatchSize {
		c.BatchSize = maxBatchSize
	}
	if c.MaxAttempts < 2 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MaxAttempts > 3 {
		c.MaxAttempts = 3
	}
	if c.InventoryTTL <= 0 {
		c.InventoryTTL = defaultInventoryTTL
	}
	if c.CostTTL <= 0 {
		c.CostTTL = defaultCostTTL
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
}

// Fetcher calls the gateways in size-bounded batches with per-region
// concurrency, retries, and caching. A caller timeout keeps results from
// regions that already completed; the remainder is marked failed.
type Fetcher struct {
	inventory InventoryGateway
	cost      CostGateway
	cfg       FetcherConfig

	invCache  *cache.Cache[[]types.Resource]
	costCache *cache.Cache[map[string]decimal.Decimal]

	logger  *telemetry.Logger
	metrics *telemetry.EngineMetrics
}

// NewFetcher creates a fetcher over the two gateway collaborators
func NewFetcher(inventory InventoryGateway, cost CostGateway, cfg FetcherConfig) *Fetcher {
	cfg.applyDefaults()
	return &Fetcher{
		inventory: inventory,
		cost:      cost,
		cfg:       cfg,
		invCache:  cache.New[[]types.Resource](),
		costCache: cache.New[map[string]decimal.Decimal](),
		logger:    telemetry.NewLogger("gateway"),
	}
}

// WithMetrics attaches engine metrics
func (f *Fetcher) WithMetrics(m *telemetry.EngineMetrics) *Fetcher {
	f.metrics = m
	return f
}

// FetchInventory fetches resources for the requested types and regions.
// It returns whatever was obtained plus a quality marker listing failed
// regions/types. Only a total failure returns ErrAllRegionsFailed.
func (f *Fetcher) FetchInventory(ctx context.Context, resourceTypes, regions []string) ([]types.Resource, types.DataQuality, error) {
	if len(regions) == 0 || len(resourceTypes) == 0 {
		return nil, types.CompleteQuality(), nil
	}

	var (
		mu        sync.Mutex
		resources []types.Resource
		failures  []RegionFailure
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.cfg.Concurrency)

	for _, chunk := range chunkTypes(resourceTypes, f.cfg.BatchSize) {
		for _, region := range regions {
			chunk, region := chunk, region
			group.Go(func() error {
				batch, err := f.fetchInventoryBatch(groupCtx, chunk, region)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					// Failures degrade quality; they never cancel siblings.
					failures = append(failures, RegionFailure{Region: region, ResourceTypes: chunk, Err: err})
					f.logger.LogRegionFailure(ctx, region, chunk, err)
					if f.metrics != nil {
						f.metrics.RecordRegionFailure(ctx, region)
					}
					return nil
				}
				resources = append(resources, batch...)
				return nil
			})
		}
	}
	_ = group.Wait()

	quality := qualityFromFailures(failures)
	if len(resources) == 0 && len(failures) > 0 {
		return nil, quality, ErrAllRegionsFailed
	}
	return resources, quality, nil
}

// AttachCosts fetches monthly costs for the given resources and returns
// copies with cost set where known. Cost fetch failures degrade quality
// per region, mirroring inventory behavior.
func (f *Fetcher) AttachCosts(ctx context.Context, resources []types.Resource, windowStart, windowEnd time.Time) ([]types.Resource, types.DataQuality) {
	byRegion := make(map[string][]types.Resource)
	for _, r := range resources {
		byRegion[r.Region] = append(byRegion[r.Region], r)
	}

	var (
		mu       sync.Mutex
		out      []types.Resource
		failures []RegionFailure
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.cfg.Concurrency)

	for region, regionResources := range byRegion {
		region, regionResources := region, regionResources
		group.Go(func() error {
			costs, err := f.fetchCostBatch(groupCtx, region, regionResources, windowStart, windowEnd)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, RegionFailure{Region: region, Err: err})
				f.logger.LogRegionFailure(ctx, region, nil, err)
				// Resources stay in the result, just without cost.
				out = append(out, regionResources...)
				return nil
			}
			for _, r := range regionResources {
				if cost, ok := costs[r.ARN]; ok {
					c := cost
					r.MonthlyCost = &c
				}
				out = append(out, r)
			}
			return nil
		})
	}
	_ = group.Wait()

	return out, qualityFromFailures(failures)
}

// InvalidateCaches drops every cached gateway response. Called after a
// policy reload.
func (f *Fetcher) InvalidateCaches() int {
	return f.invCache.InvalidateAll() + f.costCache.InvalidateAll()
}

// fetchInventoryBatch consults the cache, then calls the gateway with
// bounded retries
func (f *Fetcher) fetchInventoryBatch(ctx context.Context, resourceTypes []string, region string) ([]types.Resource, error) {
	key := cache.Key{ResourceTypes: resourceTypes, Region: region}
	if cached, ok := f.invCache.Get(key); ok {
		f.recordCacheLookup(ctx, true, region)
		return cached, nil
	}
	f.recordCacheLookup(ctx, false, region)

	resources, err := retry(ctx, f.cfg.MaxAttempts, func() ([]types.Resource, error) {
		return f.inventory.FetchResources(ctx, resourceTypes, region)
	})
	if err != nil {
		return nil, err
	}

	f.invCache.Put(key, resources, f.cfg.InventoryTTL)
	return resources, nil
}

func (f *Fetcher) fetchCostBatch(ctx context.Context, region string, resources []types.Resource, windowStart, windowEnd time.Time) (map[string]decimal.Decimal, error) {
	arns := make([]string, len(resources))
	resourceTypes := make([]string, 0, 2)
	seen := map[string]struct{}{}
	for i, r := range resources {
		arns[i] = r.ARN
		if _, ok := seen[r.Type]; !ok {
			seen[r.Type] = struct{}{}
			resourceTypes = append(resourceTypes, r.Type)
		}
	}

	key := cache.Key{ResourceTypes: resourceTypes, Region: region, WindowStart: windowStart, WindowEnd: windowEnd}
	if cached, ok := f.costCache.Get(key); ok {
		f.recordCacheLookup(ctx, true, region)
		return cached, nil
	}
	f.recordCacheLookup(ctx, false, region)

	costs, err := retry(ctx, f.cfg.MaxAttempts, func() (map[string]decimal.Decimal, error) {
		return f.cost.FetchCosts(ctx, arns, windowStart, windowEnd)
	})
	if err != nil {
		return nil, err
	}

	// Cost changes less frequently intraday, so it caches longer.
	f.costCache.Put(key, costs, f.cfg.CostTTL)
	return costs, nil
}

func (f *Fetcher) recordCacheLookup(ctx context.Context, hit bool, region string) {
	f.logger.LogCacheEvent(ctx, hit, region)
	if f.metrics != nil {
		f.metrics.RecordCacheLookup(ctx, hit)
	}
}

// retry runs an operation with exponential backoff and jitter, bounded
// to maxAttempts. Context cancellation is permanent: a timed-out region
// is recorded as failed, not retried past the deadline.
func retry[T any](ctx context.Context, maxAttempts int, operation func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		result, err := operation()
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(maxAttempts)))
}

// chunkTypes splits resource types into size-bounded batches, preserving
// order
func chunkTypes(resourceTypes []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(resourceTypes); start += size {
		end := start + size
		if end > len(resourceTypes) {
			end = len(resourceTypes)
		}
		chunks = append(chunks, resourceTypes[start:end])
	}
	return chunks
}

func qualityFromFailures(failures []RegionFailure) types.DataQuality {
	if len(failures) == 0 {
		return types.CompleteQuality()
	}
	var regions, resourceTypes []string
	for _, f := range failures {
		regions = append(regions, f.Region)
		resourceTypes = append(resourceTypes, f.ResourceTypes...)
	}
	return types.PartialQuality(regions, resourceTypes)
}
