// Package engine orchestrates the scan, attribution, drift, and trend
// operations over the gateway, policy, and storage collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tagvet/tagvet/attribution"
	"github.com/tagvet/tagvet/audit"
	"github.com/tagvet/tagvet/compliance"
	"github.com/tagvet/tagvet/drift"
	"github.com/tagvet/tagvet/gateway"
	"github.com/tagvet/tagvet/policy"
	"github.com/tagvet/tagvet/storage"
	"github.com/tagvet/tagvet/telemetry"
	"github.com/tagvet/tagvet/types"
)

// attributionBatchSize bounds how many resources one attribution pass
// holds before its partial result is merged into the running total
const attributionBatchSize = 250

// ErrNoPolicy is returned when an operation runs before a policy loaded
var ErrNoPolicy = errors.New("no tagging policy loaded")

// Config wires the engine's collaborators and tunables
type Config struct {
	PolicyPath   string
	Regions      []string
	LookbackDays int
}

func (c *Config) applyDefaults() {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
}

// Engine runs the compliance operations. Policy-derived collaborators
// are swapped atomically on reload; in-flight operations finish against
// the policy they started with.
type Engine struct {
	mu       sync.RWMutex
	policy   *policy.TaggingPolicy
	scorer   *compliance.Scorer
	detector *drift.Detector

	fetcher  *gateway.Fetcher
	history  storage.History
	auditLog *audit.Log

	cfg     Config
	logger  *telemetry.Logger
	metrics *telemetry.EngineMetrics
	now     func() time.Time
}

// New creates an engine, loading the policy from cfg.PolicyPath
func New(cfg Config, fetcher *gateway.Fetcher, history storage.History, auditLog *audit.Log) (*Engine, error) {
	cfg.applyDefaults()

	p, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}

	return &Engine{
		policy:   p,
		scorer:   compliance.NewScorer(p),
		detector: drift.NewDetector(p),
		fetcher:  fetcher,
		history:  history,
		auditLog: auditLog,
		cfg:      cfg,
		logger:   telemetry.NewLogger("engine"),
		now:      time.Now,
	}, nil
}

// WithMetrics attaches engine metrics
func (e *Engine) WithMetrics(m *telemetry.EngineMetrics) *Engine {
	e.metrics = m
	e.fetcher.WithMetrics(m)
	return e
}

// Policy returns the currently loaded policy
func (e *Engine) Policy() *policy.TaggingPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// ReloadPolicy re-reads the policy file and drops every cached gateway
// response, since cached data may have been validated under old rules.
// On load failure the previous policy stays active.
func (e *Engine) ReloadPolicy(ctx context.Context) error {
	p, err := policy.Load(e.cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("policy reload rejected: %w", err)
	}

	e.mu.Lock()
	e.policy = p
	e.scorer = compliance.NewScorer(p)
	e.detector = drift.NewDetector(p)
	e.mu.Unlock()

	invalidated := e.fetcher.InvalidateCaches()
	e.logger.LogPolicyReload(ctx, p.Version, invalidated)
	return nil
}

// ScanCompliance fetches inventory, scores it against the policy, and
// records a snapshot for later drift and trend queries
func (e *Engine) ScanCompliance(ctx context.Context, resourceTypes []string) (types.ComplianceResult, error) {
	started := e.now()
	correlationID := uuid.NewString()
	e.logger.LogScanStart(ctx, resourceTypes, e.cfg.Regions)

	scorer := e.currentScorer()
	if scorer == nil {
		return types.ComplianceResult{}, ErrNoPolicy
	}

	resources, quality, err := e.fetcher.FetchInventory(ctx, resourceTypes, e.cfg.Regions)
	if err != nil {
		e.appendAudit(correlationID, "scan_compliance", resourceTypes, started, audit.OutcomeError, err.Error())
		e.recordScan(ctx, "error", started, 0, 0)
		return types.ComplianceResult{}, err
	}

	for i := range resources {
		if err := resources[i].ValidateARN(); err != nil {
			// Diagnostic only; a malformed identifier never aborts a batch.
			e.logger.WithContext(ctx).Warn().Err(err).Str("type", resources[i].Type).Msg("resource with malformed arn")
		}
	}

	result := scorer.Score(resources, resourceTypes, quality)

	snapshot := types.Snapshot{
		Timestamp:            started,
		ScannedResourceTypes: result.ScannedResourceTypes,
		Result:               result,
		TagState:             tagState(resources),
	}
	if err := e.history.RecordSnapshot(ctx, snapshot); err != nil {
		// The scan result is still valid; only history recording failed.
		e.logger.WithContext(ctx).Error().Err(err).Msg("failed to record compliance snapshot")
	}

	outcome := outcomeFromQuality(result.DataQuality)
	summary := fmt.Sprintf("resources=%d score=%.3f violations=%d", result.TotalResources, result.Score, len(result.Violations))
	e.appendAudit(correlationID, "scan_compliance", resourceTypes, started, outcome, summary)
	e.recordScan(ctx, string(outcome), started, result.TotalResources, len(result.Violations))
	e.logger.LogScanComplete(ctx, result.TotalResources, len(result.Violations), result.Score, msSince(started, e.now()))
	return result, nil
}

// CostAttribution fetches inventory with costs and computes attributable
// versus unattributable spend, processing resources in bounded batches
// whose partial results merge into one aggregate
func (e *Engine) CostAttribution(ctx context.Context, resourceTypes []string, opts attribution.Options) (types.CostAttributionResult, error) {
	started := e.now()
	correlationID := uuid.NewString()

	scorer := e.currentScorer()
	if scorer == nil {
		return types.CostAttributionResult{}, ErrNoPolicy
	}

	resources, fetchQuality, err := e.fetcher.FetchInventory(ctx, resourceTypes, e.cfg.Regions)
	if err != nil {
		e.appendAudit(correlationID, "cost_attribution", resourceTypes, started, audit.OutcomeError, err.Error())
		return types.CostAttributionResult{}, err
	}

	withCosts, costQuality := e.fetcher.AttachCosts(ctx, resources, opts.WindowStart, opts.WindowEnd)
	quality := fetchQuality.Merge(costQuality)

	result := types.CostAttributionResult{DataQuality: quality}
	if opts.GroupBy != "" {
		result.Breakdown = map[string]types.BreakdownRow{}
	}
	for _, batch := range batchResources(withCosts, attributionBatchSize) {
		partial := attribution.Calculate(batch, scorer.ValidateAll(batch), types.CompleteQuality(), opts)
		result = attribution.Merge(result, partial)
	}

	outcome := outcomeFromQuality(result.DataQuality)
	summary := fmt.Sprintf("total=%s gap=%s gap_pct=%.3f", result.TotalSpend.StringFixed(2), result.AttributionGap.StringFixed(2), result.AttributionGapPercentage)
	e.appendAudit(correlationID, "cost_attribution", resourceTypes, started, outcome, summary)
	return result, nil
}

// DetectDrift compares current inventory against the latest stored
// snapshot within the lookback window. With no qualifying snapshot it
// falls back to the static policy expectation. Detected events are
// recorded to history.
func (e *Engine) DetectDrift(ctx context.Context, resourceTypes []string) ([]types.DriftEvent, error) {
	started := e.now()
	correlationID := uuid.NewString()

	detector := e.currentDetector()
	if detector == nil {
		return nil, ErrNoPolicy
	}

	resources, quality, err := e.fetcher.FetchInventory(ctx, resourceTypes, e.cfg.Regions)
	if err != nil {
		e.appendAudit(correlationID, "detect_drift", resourceTypes, started, audit.OutcomeError, err.Error())
		return nil, err
	}

	since := started.AddDate(0, 0, -e.cfg.LookbackDays)
	baseline, err := e.history.LatestSnapshot(ctx, resourceTypes, since)
	if err != nil {
		e.appendAudit(correlationID, "detect_drift", resourceTypes, started, audit.OutcomeError, err.Error())
		return nil, fmt.Errorf("failed to load baseline snapshot: %w", err)
	}

	var events []types.DriftEvent
	baselineKind := "snapshot"
	if baseline != nil {
		events = detector.DetectAgainstSnapshot(resources, baseline)
	} else {
		baselineKind = "policy"
		events = detector.DetectAgainstPolicy(resources)
	}

	if err := e.history.RecordDriftEvents(ctx, events); err != nil {
		e.logger.WithContext(ctx).Error().Err(err).Msg("failed to record drift events")
	}
	e.recordDrift(ctx, events)

	outcome := outcomeFromQuality(quality)
	summary := fmt.Sprintf("baseline=%s events=%d", baselineKind, len(events))
	e.appendAudit(correlationID, "detect_drift", resourceTypes, started, outcome, summary)
	e.logger.WithContext(ctx).Info().
		Str("baseline", baselineKind).
		Int("events", len(events)).
		Msg("drift detection completed")
	return events, nil
}

// Trend aggregates stored snapshots into time buckets
func (e *Engine) Trend(ctx context.Context, query storage.TrendQuery) ([]types.TrendPoint, error) {
	started := e.now()
	correlationID := uuid.NewString()

	points, err := e.history.QueryTrend(ctx, query)
	if err != nil {
		e.appendAudit(correlationID, "query_trend", query, started, audit.OutcomeError, err.Error())
		return nil, err
	}

	e.appendAudit(correlationID, "query_trend", query, started, audit.OutcomeSuccess,
		fmt.Sprintf("buckets=%d", len(points)))
	return points, nil
}

func (e *Engine) currentScorer() *compliance.Scorer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scorer
}

func (e *Engine) currentDetector() *drift.Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector
}

func (e *Engine) appendAudit(correlationID, tool string, input any, started time.Time, outcome audit.Outcome, summary string) {
	if e.auditLog == nil {
		return
	}
	e.auditLog.Append(audit.Entry{
		CorrelationID: correlationID,
		ToolName:      tool,
		InputDigest:   audit.DigestInput(input),
		OutputSummary: summary,
		StartedAt:     started,
		DurationMs:    int64(msSince(started, e.now())),
		Outcome:       outcome,
	})
}

func (e *Engine) recordScan(ctx context.Context, outcome string, started time.Time, resources, violations int) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordScan(ctx, outcome, e.now().Sub(started).Seconds(), resources, violations)
}

func (e *Engine) recordDrift(ctx context.Context, events []types.DriftEvent) {
	if e.metrics == nil {
		return
	}
	bySeverity := make(map[types.DriftSeverity]int)
	for _, event := range events {
		bySeverity[event.Severity]++
	}
	for severity, count := range bySeverity {
		e.metrics.RecordDriftEvents(ctx, string(severity), count)
	}
}

// tagState captures each resource's tags for drift comparison
func tagState(resources []types.Resource) map[string]map[string]string {
	state := make(map[string]map[string]string, len(resources))
	for _, r := range resources {
		tags := make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			tags[k] = v
		}
		state[r.ARN] = tags
	}
	return state
}

func batchResources(resources []types.Resource, size int) [][]types.Resource {
	var batches [][]types.Resource
	for start := 0; start < len(resources); start += size {
		end := start + size
		if end > len(resources) {
			end = len(resources)
		}
		batches = append(batches, resources[start:end])
	}
	return batches
}

func outcomeFromQuality(q types.DataQuality) audit.Outcome {
	if q.Status == types.QualityPartial {
		return audit.OutcomePartial
	}
	return audit.OutcomeSuccess
}

func msSince(from, to time.Time) float64 {
	return float64(to.Sub(from).Milliseconds())
}
