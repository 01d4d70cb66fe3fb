package storage

import (
	"context"
	"time"

	"github.com/tagvet/tagvet/types"
)

// SnapshotWriter appends compliance snapshots
type SnapshotWriter interface {
	RecordSnapshot(ctx context.Context, snapshot types.Snapshot) error
}

// SnapshotReader queries stored snapshots
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, resourceTypes []string, since time.Time) (*types.Snapshot, error)
	QueryTrend(ctx context.Context, query TrendQuery) ([]types.TrendPoint, error)
}

// DriftEventWriter appends drift events
type DriftEventWriter interface {
	RecordDriftEvents(ctx context.Context, events []types.DriftEvent) error
}

// DriftEventReader queries drift events
type DriftEventReader interface {
	QueryDriftEventsSince(ctx context.Context, since time.Time) ([]types.DriftEvent, error)
}

// History combines all history store capabilities
type History interface {
	SnapshotWriter
	SnapshotReader
	DriftEventWriter
	DriftEventReader
	Close() error
}

var _ History = (*HistoryStore)(nil)
