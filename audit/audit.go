// Package audit keeps an append-only record of every engine invocation,
// independent of the history store. Audit failures are logged internally
// and never abort the user-facing result.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tagvet/tagvet/telemetry"
)

// Outcome of one audited invocation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeError   Outcome = "error"
)

// Entry is a single audit record
type Entry struct {
	Sequence      int64     `json:"sequence"`
	CorrelationID string    `json:"correlation_id"`
	ToolName      string    `json:"tool_name"`
	InputDigest   string    `json:"input_digest"`
	OutputSummary string    `json:"output_summary"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    int64     `json:"duration_ms"`
	Outcome       Outcome   `json:"outcome"`
}

// Log is an append-only JSON-lines audit log
type Log struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	logger   *telemetry.Logger
}

// Open creates or opens an audit log in the specified directory
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	// Timestamp in the filename for rotation.
	filename := fmt.Sprintf("tagvet-%s.audit", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G304 -- path built from caller-chosen dir
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	l := &Log{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
		logger: telemetry.NewLogger("audit"),
	}
	l.loadSequence()
	return l, nil
}

// Close flushes and closes the audit log
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Append records one entry. It never returns an error to the caller:
// failures are logged internally so audit problems cannot abort the
// operation being audited.
func (l *Log) Append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry.Sequence = l.sequence

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error().Err(err).Str("tool", entry.ToolName).Msg("failed to marshal audit entry")
		return
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		l.logger.Error().Err(err).Str("tool", entry.ToolName).Msg("failed to write audit entry")
		return
	}
	if err := l.writer.Flush(); err != nil {
		l.logger.Error().Err(err).Str("tool", entry.ToolName).Msg("failed to flush audit entry")
	}
}

// Entries replays every entry across all audit files in the directory,
// in sequence order within each file
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	if err := l.writer.Flush(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.dir, "tagvet-*.audit"))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, path := range files {
		fileEntries, err := readEntries(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

// loadSequence recovers the highest sequence from existing audit files so
// appends continue monotonically after a restart
func (l *Log) loadSequence() {
	files, err := filepath.Glob(filepath.Join(l.dir, "tagvet-*.audit"))
	if err != nil {
		return
	}
	for _, path := range files {
		entries, err := readEntries(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.Sequence > l.sequence {
				l.sequence = e.Sequence
			}
		}
	}
}

func readEntries(path string) ([]Entry, error) {
	file, err := os.Open(path) // #nosec G304 -- path from directory glob
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("corrupt audit entry in %s: %w", path, err)
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// DigestInput produces a stable digest of invocation inputs so the audit
// log never stores raw parameters
func DigestInput(input any) string {
	data, err := json.Marshal(input)
	if err != nil {
		return "unmarshalable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
