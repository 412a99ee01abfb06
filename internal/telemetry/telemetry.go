// =============================================================================
// ContextCache OpenTelemetry SDK Initialization
// =============================================================================
// Wraps OTel SDK setup for traces and metrics. When telemetry is disabled,
// no exporters are created and global providers remain noop.
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/contextcache/config"
	"github.com/BaSui01/contextcache/llm/cache"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InstrumentationName 是本服务 tracer 与 meter 的名称
const InstrumentationName = "github.com/BaSui01/contextcache"

// Providers holds the OTel SDK TracerProvider and MeterProvider.
// When telemetry is disabled, both fields are nil and Shutdown is a no-op.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init initializes the OTel SDK. When cfg.Telemetry.Enabled is false, it
// returns a noop Providers (nil tp/mp) without connecting to any external
// service.
func Init(cfg *config.Config, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tcfg := cfg.Telemetry
	if !tcfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	ctx := context.Background()

	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	// Create OTLP gRPC trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(tcfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	// Create OTLP gRPC metric exporter
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(tcfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	// Create TracerProvider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(tcfg.SampleRate)),
	)

	// Create MeterProvider
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	// Register as global providers
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	instanceID, _ := res.Set().Value(semconv.ServiceInstanceIDKey)
	logger.Info("telemetry initialized",
		zap.String("endpoint", tcfg.OTLPEndpoint),
		zap.String("service_name", tcfg.ServiceName),
		zap.String("instance_id", instanceID.AsString()),
		zap.Float64("sample_rate", tcfg.SampleRate),
	)

	return &Providers{tp: tp, mp: mp}, nil
}

// Resource attribute keys describing how this instance's cache is set up, so
// that traces from differently tuned instances can be told apart.
const (
	CacheCodecKey        = attribute.Key("contextcache.cache.codec")
	CacheMaxSizeKey      = attribute.Key("contextcache.cache.max_size")
	CacheCompressionKey  = attribute.Key("contextcache.cache.compression_enabled")
	PressureMonitorKey   = attribute.Key("contextcache.pressure.enabled")
	TokenizerModelKey    = attribute.Key("contextcache.tokenizer.default_model")
	TokenizerTiktokenKey = attribute.Key("contextcache.tokenizer.tiktoken")
)

// NewResource describes this service instance: service identity, the host
// it runs on and the cache and tokenizer settings it started with. An empty
// InstanceID is replaced by a random UUID.
func NewResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	instanceID := cfg.Telemetry.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	codec := cfg.Cache.Codec
	if codec == "" {
		codec = cache.CodecZstd
	}

	return resource.New(ctx,
		resource.WithHost(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.Telemetry.ServiceName),
			semconv.ServiceVersion(buildVersion()),
			semconv.ServiceInstanceID(instanceID),
			CacheCodecKey.String(codec),
			CacheMaxSizeKey.Int(cfg.Cache.MaxSize),
			CacheCompressionKey.Bool(cfg.Cache.CompressionEnabled),
			PressureMonitorKey.Bool(cfg.Pressure.Enabled),
			TokenizerModelKey.String(cfg.Tokenizer.DefaultModel),
			TokenizerTiktokenKey.Bool(cfg.Tokenizer.UseTiktoken),
		),
	)
}

// Shutdown flushes pending spans/metrics and closes exporters.
// Safe to call on noop Providers (nil tp/mp).
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the service tracer from the global provider, which is a
// noop when telemetry is disabled.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Meter returns the service meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// buildVersion extracts the module version from Go build info.
// Falls back to "dev" if unavailable.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
