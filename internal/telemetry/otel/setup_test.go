package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	for _, endpoint := range []string{"", "   "} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint, ServiceName: "hotspot-test"})
		if err != nil {
			t.Fatalf("NewProviders(%q): %v", endpoint, err)
		}
		if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
			t.Fatalf("NewProviders(%q) left a provider nil", endpoint)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := providers.Shutdown(ctx); err != nil {
			t.Errorf("second shutdown: %v", err)
		}
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
	}{
		{"invalid characters", "://invalid"},
		{"malformed", "http://[invalid"},
		{"missing host", "http://"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), Options{Endpoint: tc.endpoint, ServiceName: "hotspot-test"}); err == nil {
				t.Errorf("NewProviders(%q) should return error", tc.endpoint)
			}
		})
	}
}

func TestNewProviders_ExportersAreLazy(t *testing.T) {
	// gRPC exporters dial lazily, so an unreachable collector does not fail construction.
	ctx := context.Background()
	for _, endpoint := range []string{"localhost:4317", "https://localhost:4317/v1/traces"} {
		providers, err := NewProviders(ctx, Options{Endpoint: endpoint, ServiceName: "hotspot-test", Insecure: true})
		if err != nil {
			t.Logf("NewProviders(%q): %v", endpoint, err)
			continue
		}
		shutdownCtx, cancel := context.WithCancel(ctx)
		cancel()
		_ = providers.Shutdown(shutdownCtx)
	}
}

func TestCollectorTarget(t *testing.T) {
	testCases := []struct {
		endpoint string
		force    bool
		target   string
		insecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317/v1/traces", false, "collector:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
	}
	for _, tc := range testCases {
		target, insecure, err := collectorTarget(tc.endpoint, tc.force)
		if err != nil {
			t.Fatalf("collectorTarget(%q): %v", tc.endpoint, err)
		}
		if target != tc.target || insecure != tc.insecure {
			t.Errorf("collectorTarget(%q, %t) = %q, %t; want %q, %t", tc.endpoint, tc.force, target, insecure, tc.target, tc.insecure)
		}
	}
}

func TestOptions_Resource(t *testing.T) {
	res, err := Options{ServiceName: "hotspot-cp", Environment: "production", DeviceHost: "192.168.88.1"}.Resource()
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	want := map[attribute.Key]string{
		"service.name":                "hotspot-cp",
		"deployment.environment.name": "production",
		"hotspot.device.host":         "192.168.88.1",
	}
	for key, value := range want {
		got, ok := res.Set().Value(key)
		if !ok || got.AsString() != value {
			t.Errorf("resource %s = %q (present=%t), want %q", key, got.AsString(), ok, value)
		}
	}

	res, err = Options{ServiceName: "hotspot-cp"}.Resource()
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if _, ok := res.Set().Value("hotspot.device.host"); ok {
		t.Error("empty device host should be omitted")
	}
}

func TestViews_ReconcileBuckets(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithView(Views()...))
	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordReconcile(context.Background(), 1, 0, 0, 0, 0, 7.5, true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != reconcileDurationName {
				continue
			}
			hist, ok := metric.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("reconcile duration is %T", metric.Data)
			}
			if len(hist.DataPoints) != 1 {
				t.Fatalf("got %d data points", len(hist.DataPoints))
			}
			bounds := hist.DataPoints[0].Bounds
			if len(bounds) != len(reconcileBuckets) || bounds[len(bounds)-1] != 120 {
				t.Errorf("bounds = %v, want %v", bounds, reconcileBuckets)
			}
			return
		}
	}
	t.Fatal("reconcile duration not collected")
}

func TestSetGlobal(t *testing.T) {
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	})

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	// Nil providers leave the globals alone.
	(&Providers{TracerProvider: tp}).SetGlobal()
	if otel.GetTracerProvider() != tp {
		t.Error("TracerProvider should be set")
	}
	if otel.GetMeterProvider() != oldMP {
		t.Error("MeterProvider should not change when nil")
	}
}
