// Package gateway defines the inventory and cost collaborator contracts
// and the batching discipline used to call them against rate-limited,
// large-fanout cloud inventories.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tagvet/tagvet/types"
)

// ErrAllRegionsFailed is returned when no region produced any data. A
// subset of failed regions only degrades data quality, never fails the
// call.
var ErrAllRegionsFailed = errors.New("all region fetches failed")

// InventoryGateway returns tagged resources for a batch of resource
// types in one region. Implementations may fail per call; the fetcher
// records the failure rather than silently dropping the region.
type InventoryGateway interface {
	FetchResources(ctx context.Context, resourceTypes []string, region string) ([]types.Resource, error)
}

// CostGateway returns per-resource monthly cost for a time window
type CostGateway interface {
	FetchCosts(ctx context.Context, arns []string, windowStart, windowEnd time.Time) (map[string]decimal.Decimal, error)
}

// RegionFailure records one failed per-region fetch
type RegionFailure struct {
	Region        string
	ResourceTypes []string
	Err           error
}

func (f RegionFailure) Error() string {
	return fmt.Sprintf("region %s (%v): %v", f.Region, f.ResourceTypes, f.Err)
}

func (f RegionFailure) Unwrap() error { return f.Err }
