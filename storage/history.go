// Package storage persists compliance snapshots and drift events for
// trend queries. Records are append-only and never deleted by the engine.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/tagvet/tagvet/types"
)

// Bucket names in bbolt
var (
	bucketSnapshots = []byte("snapshots")
	bucketDrift     = []byte("drift_events")
	bucketMeta      = []byte("meta")
)

// snapshotRef is the in-memory index entry for one stored snapshot
type snapshotRef struct {
	tsNanos  int64
	typesKey string
	key      []byte
}

func refLess(a, b *snapshotRef) bool {
	if a.tsNanos != b.tsNanos {
		return a.tsNanos < b.tsNanos
	}
	return a.typesKey < b.typesKey
}

// HistoryStore is a bbolt-backed, append-only snapshot and drift event
// store with an in-memory btree index over snapshot timestamps
type HistoryStore struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[*snapshotRef]
	seq   int64
	now   func() time.Time
}

// Open creates or opens a history store in the given directory
func Open(dir string) (*HistoryStore, error) {
	dbPath := filepath.Join(dir, "tagvet.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketDrift, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &HistoryStore{
		db:    db,
		index: btree.NewG[*snapshotRef](32, refLess),
		now:   time.Now,
	}
	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// RecordSnapshot appends a compliance snapshot, keyed by its timestamp
// and scanned resource types
func (s *HistoryStore) RecordSnapshot(ctx context.Context, snapshot types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = s.now()
	}
	typesKey := canonicalTypes(snapshot.ScannedResourceTypes)
	key := makeSnapshotKey(snapshot.Timestamp.UnixNano(), typesKey)

	value, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	s.index.ReplaceOrInsert(&snapshotRef{
		tsNanos:  snapshot.Timestamp.UnixNano(),
		typesKey: typesKey,
		key:      key,
	})
	return nil
}

// RecordDriftEvents appends a batch of drift events atomically
func (s *HistoryStore) RecordDriftEvents(ctx context.Context, events []types.DriftEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDrift)
		for i, event := range events {
			s.seq++
			key := makeDriftKey(event.DetectedAt.UnixNano(), s.seq)
			value, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal drift event at index %d: %w", i, err)
			}
			if err := bucket.Put(key, value); err != nil {
				return fmt.Errorf("failed to put drift event at index %d: %w", i, err)
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("drift_sequence"), int64ToBytes(s.seq))
	})
	if err != nil {
		return fmt.Errorf("failed to store drift event batch: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot at or after since,
// optionally restricted to an exact scanned-types set. Returns nil when
// no snapshot qualifies.
func (s *HistoryStore) LatestSnapshot(ctx context.Context, resourceTypes []string, since time.Time) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	wantTypes := canonicalTypes(resourceTypes)
	var match *snapshotRef
	s.index.Descend(func(ref *snapshotRef) bool {
		if ref.tsNanos < since.UnixNano() {
			return false
		}
		if wantTypes != "" && ref.typesKey != wantTypes {
			return true
		}
		match = ref
		return false
	})
	s.mu.RUnlock()

	if match == nil {
		return nil, nil
	}
	return s.loadSnapshot(match.key)
}

// QueryDriftEventsSince returns drift events detected at or after since,
// oldest first
func (s *HistoryStore) QueryDriftEventsSince(ctx context.Context, since time.Time) ([]types.DriftEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []types.DriftEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketDrift).Cursor()
		start := int64ToBytes(since.UnixNano())
		for k, v := cursor.Seek(start); k != nil; k, v = cursor.Next() {
			var event types.DriftEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("failed to unmarshal drift event: %w", err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// loadSnapshot reads one snapshot by key
func (s *HistoryStore) loadSnapshot(key []byte) (*types.Snapshot, error) {
	var snapshot types.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketSnapshots).Get(key)
		if value == nil {
			return fmt.Errorf("snapshot key vanished from store")
		}
		return json.Unmarshal(value, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// rebuildIndex reloads the in-memory index and drift sequence from disk
func (s *HistoryStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketSnapshots).ForEach(func(k, _ []byte) error {
			tsNanos, typesKey, err := parseSnapshotKey(k)
			if err != nil {
				return err
			}
			keyCopy := append([]byte{}, k...)
			s.index.ReplaceOrInsert(&snapshotRef{tsNanos: tsNanos, typesKey: typesKey, key: keyCopy})
			return nil
		})
		if err != nil {
			return err
		}
		if raw := tx.Bucket(bucketMeta).Get([]byte("drift_sequence")); raw != nil {
			s.seq = bytesToInt64(raw)
		}
		return nil
	})
}

// Stats reports snapshot count and current drift sequence
func (s *HistoryStore) Stats() (snapshotCount int, driftSequence int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len(), s.seq
}

// Keys are time-prefixed so cursor scans iterate oldest-to-newest.

func makeSnapshotKey(tsNanos int64, typesKey string) []byte {
	key := make([]byte, 0, 9+len(typesKey))
	key = append(key, int64ToBytes(tsNanos)...)
	key = append(key, '|')
	key = append(key, typesKey...)
	return key
}

func parseSnapshotKey(key []byte) (int64, string, error) {
	if len(key) < 9 || key[8] != '|' {
		return 0, "", fmt.Errorf("malformed snapshot key %q", key)
	}
	return bytesToInt64(key[:8]), string(key[9:]), nil
}

func makeDriftKey(tsNanos, seq int64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(tsNanos))
	binary.BigEndian.PutUint64(key[8:], uint64(seq))
	return key
}

func int64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func bytesToInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func canonicalTypes(resourceTypes []string) string {
	sorted := append([]string{}, resourceTypes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
