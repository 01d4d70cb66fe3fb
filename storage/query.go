package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tagvet/tagvet/types"
)

// Grouping granularity for trend queries
type Grouping string

const (
	GroupByDay   Grouping = "day"
	GroupByWeek  Grouping = "week"
	GroupByMonth Grouping = "month"
)

// TrendQuery selects snapshots for aggregation
type TrendQuery struct {
	// ResourceTypes restricts to snapshots of this exact scanned set.
	// Empty matches every snapshot.
	ResourceTypes []string
	SinceDays     int
	GroupBy       Grouping
}

// QueryTrend buckets stored snapshots by timestamp truncated to the
// grouping unit. Scores are averaged and violation counts summed per
// bucket. The sequence is ordered oldest-to-newest and deterministic
// for identical store contents.
func (s *HistoryStore) QueryTrend(ctx context.Context, query TrendQuery) ([]types.TrendPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query.GroupBy == "" {
		query.GroupBy = GroupByDay
	}
	if !validGrouping(query.GroupBy) {
		return nil, fmt.Errorf("unknown grouping %q", query.GroupBy)
	}

	cutoff := s.now().AddDate(0, 0, -query.SinceDays)
	refs := s.refsSince(cutoff, canonicalTypes(query.ResourceTypes))

	type accumulator struct {
		scoreSum       float64
		resourceSum    int
		snapshots      int
		violationCount map[types.ViolationType]int
	}
	buckets := make(map[time.Time]*accumulator)

	for _, ref := range refs {
		snapshot, err := s.loadSnapshot(ref.key)
		if err != nil {
			return nil, err
		}

		bucket := truncateToBucket(snapshot.Timestamp.UTC(), query.GroupBy)
		acc, ok := buckets[bucket]
		if !ok {
			acc = &accumulator{violationCount: make(map[types.ViolationType]int)}
			buckets[bucket] = acc
		}
		acc.scoreSum += snapshot.Result.Score
		acc.resourceSum += snapshot.Result.TotalResources
		acc.snapshots++
		for vt, n := range snapshot.Result.ViolationCounts() {
			acc.violationCount[vt] += n
		}
	}

	points := make([]types.TrendPoint, 0, len(buckets))
	for bucket, acc := range buckets {
		points = append(points, types.TrendPoint{
			Bucket:          bucket,
			Snapshots:       acc.snapshots,
			AverageScore:    acc.scoreSum / float64(acc.snapshots),
			ViolationCounts: acc.violationCount,
			TotalResources:  int(math.Round(float64(acc.resourceSum) / float64(acc.snapshots))),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bucket.Before(points[j].Bucket) })
	return points, nil
}

// refsSince collects index entries at or after the cutoff, optionally
// restricted to one canonical scanned-types set
func (s *HistoryStore) refsSince(cutoff time.Time, wantTypes string) []*snapshotRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []*snapshotRef
	s.index.AscendGreaterOrEqual(&snapshotRef{tsNanos: cutoff.UnixNano()}, func(ref *snapshotRef) bool {
		if wantTypes == "" || ref.typesKey == wantTypes {
			refs = append(refs, ref)
		}
		return true
	})
	return refs
}

// truncateToBucket maps a timestamp to its grouping bucket start
func truncateToBucket(t time.Time, groupBy Grouping) time.Time {
	switch groupBy {
	case GroupByWeek:
		// Weeks start on Monday.
		day := t.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GroupByMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(24 * time.Hour)
	}
}

func validGrouping(g Grouping) bool {
	return g == GroupByDay || g == GroupByWeek || g == GroupByMonth
}
