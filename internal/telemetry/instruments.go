package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/contextcache/llm/cache"
	llmcontext "github.com/BaSui01/contextcache/llm/context"
)

// RegisterCacheGauges exports a cache snapshot as OTel observable gauges.
// The snapshot is taken once per collection.
func RegisterCacheGauges(meter metric.Meter, name string, source func() cache.Stats) (metric.Registration, error) {
	entries, err := meter.Int64ObservableGauge("contextcache.cache.entries",
		metric.WithDescription("Number of entries currently cached"))
	if err != nil {
		return nil, fmt.Errorf("create entries gauge: %w", err)
	}
	hitRatio, err := meter.Float64ObservableGauge("contextcache.cache.hit_ratio",
		metric.WithDescription("Hits divided by lookups since the last clear"))
	if err != nil {
		return nil, fmt.Errorf("create hit ratio gauge: %w", err)
	}
	compression, err := meter.Float64ObservableGauge("contextcache.cache.compression_ratio",
		metric.WithDescription("Compressed bytes over original bytes of stored entries"))
	if err != nil {
		return nil, fmt.Errorf("create compression ratio gauge: %w", err)
	}
	evictions, err := meter.Int64ObservableCounter("contextcache.cache.evictions",
		metric.WithDescription("Entries evicted since the last clear"))
	if err != nil {
		return nil, fmt.Errorf("create evictions counter: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("cache", name))
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := source()
		o.ObserveInt64(entries, int64(st.Size), attrs)
		o.ObserveFloat64(hitRatio, st.HitRatio, attrs)
		o.ObserveFloat64(compression, st.CompressionRatio, attrs)
		o.ObserveInt64(evictions, int64(st.Evictions), attrs)
		return nil
	}, entries, hitRatio, compression, evictions)
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// TruncationAttributes describes a truncation result as span attributes.
func TruncationAttributes(r llmcontext.TruncationReport) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("truncation.available", r.Available),
		attribute.Int("truncation.original_tokens", r.OriginalTokens),
		attribute.Int("truncation.final_tokens", r.FinalTokens),
		attribute.Int("truncation.dropped_pairs", r.DroppedPairs),
		attribute.Int("truncation.dropped_other", r.DroppedOther),
		attribute.Bool("truncation.forced", r.ForcedTruncation),
		attribute.Bool("truncation.overflow", r.Overflow),
	}
}
