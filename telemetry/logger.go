package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for engine operations

// LogScanStart logs the beginning of a compliance scan
func (l *Logger) LogScanStart(ctx context.Context, resourceTypes []string, regions []string) {
	l.WithContext(ctx).Info().
		Strs("resource_types", resourceTypes).
		Strs("regions", regions).
		Str("operation", "scan").
		Msg("starting compliance scan")
}

// LogScanComplete logs scan results
func (l *Logger) LogScanComplete(ctx context.Context, resources int, violations int, score float64, durationMs float64) {
	l.WithContext(ctx).Info().
		Int("resources", resources).
		Int("violations", violations).
		Float64("score", score).
		Float64("duration_ms", durationMs).
		Str("operation", "scan").
		Msg("compliance scan completed")
}

// LogRegionFailure logs a failed per-region fetch that degraded quality
func (l *Logger) LogRegionFailure(ctx context.Context, region string, resourceTypes []string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("region", region).
		Strs("resource_types", resourceTypes).
		Msg("region fetch failed, result marked partial")
}

// LogCacheEvent logs a cache hit or miss
func (l *Logger) LogCacheEvent(ctx context.Context, hit bool, region string) {
	l.WithContext(ctx).Debug().
		Bool("hit", hit).
		Str("region", region).
		Str("operation", "cache_lookup").
		Msg("cache lookup")
}

// LogPolicyReload logs a policy reload and the cache entries it dropped
func (l *Logger) LogPolicyReload(ctx context.Context, version string, invalidated int) {
	l.WithContext(ctx).Info().
		Str("policy_version", version).
		Int("cache_entries_invalidated", invalidated).
		Msg("policy reloaded")
}
