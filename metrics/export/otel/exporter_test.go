package otel

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/teamguard"
)

type fakeSource struct {
	mu      sync.RWMutex
	logins  uint64
	latency []uint64
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() teamguard.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return teamguard.MetricsSnapshot{
		Counters:   map[teamguard.MetricID]uint64{teamguard.MetricLoginSuccess: f.logins},
		Histograms: map[teamguard.MetricID][]uint64{teamguard.MetricAuthenticateLatency: append([]uint64(nil), f.latency...)},
	}
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("teamguard-test")

	src := &fakeSource{logins: 3, latency: []uint64{1, 1, 0, 0, 0, 0, 0, 2}, dropped: 1}
	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collect(t, reader)

	logins, ok := got["teamguard_login_success_total"].Data.(metricdata.Sum[int64])
	if !ok || len(logins.DataPoints) != 1 || logins.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected login counter %+v", got["teamguard_login_success_total"])
	}

	count, ok := got["teamguard_authenticate_latency_seconds_count"].Data.(metricdata.Gauge[int64])
	if !ok || len(count.DataPoints) != 1 || count.DataPoints[0].Value != 4 {
		t.Fatalf("unexpected histogram count %+v", got["teamguard_authenticate_latency_seconds_count"])
	}

	buckets, ok := got["teamguard_authenticate_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("expected 8 bucket points, got %+v", got["teamguard_authenticate_latency_seconds_bucket"])
	}
	for _, dp := range buckets.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		if le.AsString() == "0.01" && dp.Value != 2 {
			t.Fatalf("expected cumulative 2 at le=0.01, got %d", dp.Value)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("teamguard-test")
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("teamguard-test")

	src := &fakeSource{latency: []uint64{1}}
	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.logins = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
