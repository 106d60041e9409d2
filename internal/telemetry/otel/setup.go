// Package otel provides OpenTelemetry TracerProvider, MeterProvider, and LoggerProvider
// configured with OTLP exporters, plus the control plane's metrics and event log emitter.
package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const defaultExportInterval = 10 * time.Second

// reconcileBuckets covers a fast LAN router (tens of ms) up to a cycle that ran into the device timeout.
var reconcileBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Options describe this control plane instance to the collector.
type Options struct {
	// Endpoint is the OTLP gRPC collector. Empty keeps every signal in-process.
	Endpoint    string
	Insecure    bool
	ServiceName string
	Environment string
	// DeviceHost is the hotspot router this instance manages.
	DeviceHost     string
	ExportInterval time.Duration
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Resource       *resource.Resource
	Shutdown       func(context.Context) error

	shutdownOnce sync.Once
	shutdownErr  error
}

// Resource builds the resource shared by every signal.
func (o Options) Resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(o.ServiceName)}
	if o.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(o.Environment))
	}
	if o.DeviceHost != "" {
		attrs = append(attrs, attribute.String("hotspot.device.host", o.DeviceHost))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// Views tune aggregation of the control plane's instruments.
func Views() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: reconcileDurationName},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: reconcileBuckets}},
		),
	}
}

// collectorTarget reduces the configured endpoint to the host:port the gRPC exporters dial.
// A scheme other than https means plaintext unless forced insecure.
func collectorTarget(endpoint string, forceInsecure bool) (target string, insecure bool, err error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, forceInsecure || u.Scheme != "https", nil
}

// NewProviders builds the three providers. Without an endpoint nothing is exported, but the
// resource and metric views still apply so in-process readers see the same shape.
func NewProviders(ctx context.Context, opts Options) (*Providers, error) {
	res, err := opts.Resource()
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}
	p := &Providers{Resource: res}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		p.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithView(Views()...))
		p.LoggerProvider = sdklog.NewLoggerProvider(sdklog.WithResource(res))
		p.Shutdown = p.shutdownAll
		return p, nil
	}

	target, insecure, err := collectorTarget(endpoint, opts.Insecure)
	if err != nil {
		return nil, err
	}
	interval := opts.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(spans), sdktrace.WithResource(res))

	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = p.shutdownAll(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	p.MeterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(interval))),
		sdkmetric.WithView(Views()...),
	)

	records, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = p.shutdownAll(ctx)
		return nil, fmt.Errorf("telemetry: log exporter: %w", err)
	}
	p.LoggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(records)),
		sdklog.WithResource(res),
	)
	p.Shutdown = p.shutdownAll
	return p, nil
}

// shutdownAll runs once; later calls return the first result.
func (p *Providers) shutdownAll(ctx context.Context) error {
	p.shutdownOnce.Do(func() { p.shutdownErr = p.stop(ctx) })
	return p.shutdownErr
}

// stop flushes loggers first so events emitted during shutdown still leave with their spans.
func (p *Providers) stop(ctx context.Context) error {
	var merr *multierror.Error
	if p.LoggerProvider != nil {
		if err := p.LoggerProvider.Shutdown(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("telemetry: shutdown logs: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("telemetry: shutdown metrics: %w", err))
		}
	}
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("telemetry: shutdown traces: %w", err))
		}
	}
	return merr.ErrorOrNil()
}

// SetGlobal installs the tracer and meter providers for otelgrpc. Events go through NewEventEmitter.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
