package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	monitoringmetrics "github.com/compozy/pagerag/engine/infra/monitoring/metrics"
	"github.com/compozy/pagerag/pkg/logger"
)

const (
	meterName      = "pagerag.rag"
	subsystemEmbed = "embedder"
	subsystemQuery = "retriever"
	subsystemChunk = "chunker"
	labelProvider  = "provider"
	labelModel     = "model"
	labelErrorType = "error_type"
	labelOperation = "operation"
	labelOutcome   = "outcome"
	modelOther     = "other"
)

var (
	metricsOnce       sync.Once
	metricsMu         sync.Mutex
	metricsInitErr    error
	errorLogOnce      sync.Once
	metricInstruments instruments
)

type instruments struct {
	batchLatency  metric.Float64Histogram
	tokensTotal   metric.Int64Counter
	errorsTotal   metric.Int64Counter
	retriesTotal  metric.Int64Counter
	queryLatency  metric.Float64Histogram
	queriesTotal  metric.Int64Counter
	chunksTotal   metric.Int64Counter
	backfillTotal metric.Int64Counter
}

// normalizeModelName keeps the model label to a small set of stable values.
func normalizeModelName(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case normalized == "":
		return modelOther
	case strings.HasPrefix(normalized, "text-embedding-ada"):
		return "text-embedding-ada"
	case strings.HasPrefix(normalized, "text-embedding-3"):
		return "text-embedding-3"
	case strings.HasPrefix(normalized, "text-embedding-00"), strings.HasPrefix(normalized, "text-multilingual"):
		return "vertex-text-embedding"
	case strings.Contains(normalized, "minilm"):
		return "minilm"
	default:
		return modelOther
	}
}

// RecordEmbeddingBatch captures latency and token usage for one provider call.
func RecordEmbeddingBatch(ctx context.Context, provider string, model string, duration time.Duration, tokens int) {
	if !ensureInstruments(ctx) {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(labelProvider, provider),
		attribute.String(labelModel, normalizeModelName(model)),
	)
	metricInstruments.batchLatency.Record(ctx, duration.Seconds(), attrs)
	if tokens > 0 {
		metricInstruments.tokensTotal.Add(ctx, int64(tokens), attrs)
	}
}

// RecordEmbeddingError counts a failed provider call by error kind.
func RecordEmbeddingError(ctx context.Context, provider string, model string, kind ErrorKind) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(labelProvider, provider),
		attribute.String(labelModel, normalizeModelName(model)),
		attribute.String(labelErrorType, string(kind)),
	))
}

// RecordEmbeddingRetry counts a retried batch.
func RecordEmbeddingRetry(ctx context.Context, kind ErrorKind) {
	if !ensureInstruments(ctx) {
		return
	}
	metricInstruments.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(labelErrorType, string(kind))))
}

// RecordQuery captures the latency and outcome of a retrieval operation.
func RecordQuery(ctx context.Context, operation string, outcome string, duration time.Duration) {
	if !ensureInstruments(ctx) {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(labelOperation, operation),
		attribute.String(labelOutcome, outcome),
	)
	metricInstruments.queryLatency.Record(ctx, duration.Seconds(), attrs)
	metricInstruments.queriesTotal.Add(ctx, 1, attrs)
}

// RecordChunks counts chunks produced by the chunker.
func RecordChunks(ctx context.Context, chunks int) {
	if chunks <= 0 || !ensureInstruments(ctx) {
		return
	}
	metricInstruments.chunksTotal.Add(ctx, int64(chunks))
}

// RecordBackfill counts embeddings filled in by a backfill pass.
func RecordBackfill(ctx context.Context, filled int) {
	if filled <= 0 || !ensureInstruments(ctx) {
		return
	}
	metricInstruments.backfillTotal.Add(ctx, int64(filled))
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var ins instruments
	var err error
	ins.batchLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbed, "batch_seconds"),
		metric.WithDescription("Latency of a single embedding provider call"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.EmbeddingLatencyBuckets...),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder latency histogram: %w", err)
	}
	ins.tokensTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbed, "tokens_total"),
		metric.WithDescription("Estimated tokens sent to the embedding provider"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder tokens counter: %w", err)
	}
	ins.errorsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbed, "errors_total"),
		metric.WithDescription("Embedding provider errors by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder errors counter: %w", err)
	}
	ins.retriesTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbed, "retries_total"),
		metric.WithDescription("Embedding batches retried after a transient failure"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create embedder retries counter: %w", err)
	}
	ins.backfillTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemEmbed, "backfilled_total"),
		metric.WithDescription("Chunk embeddings filled in after rebuild"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create backfill counter: %w", err)
	}
	ins.queryLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem(subsystemQuery, "query_seconds"),
		metric.WithDescription("Latency of retrieval operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.QueryLatencyBuckets...),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create retriever latency histogram: %w", err)
	}
	ins.queriesTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemQuery, "queries_total"),
		metric.WithDescription("Retrieval operations by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create retriever queries counter: %w", err)
	}
	ins.chunksTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem(subsystemChunk, "chunks_total"),
		metric.WithDescription("Chunks produced from document pages"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return instruments{}, fmt.Errorf("create chunk counter: %w", err)
	}
	return ins, nil
}

func ensureInstruments(ctx context.Context) bool {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		ins, err := newInstruments(meter)
		if err != nil {
			metricsInitErr = err
			return
		}
		metricInstruments = ins
	})
	if metricsInitErr != nil {
		errorLogOnce.Do(func() {
			logger.FromContext(ctx).Error("rag metrics disabled", "error", metricsInitErr)
		})
		return false
	}
	return true
}

// ResetMetricsForTesting drops the cached instruments so tests can install a fresh meter provider.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	errorLogOnce = sync.Once{}
	metricsInitErr = nil
	metricInstruments = instruments{}
	metricsMu.Unlock()
}
