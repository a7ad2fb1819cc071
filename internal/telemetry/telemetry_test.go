package telemetry

import (
	"context"
	"testing"
)

func TestNewProvidersWithoutEndpoint(t *testing.T) {
	p, err := NewProviders(context.Background(), "  ", "teamguard", false)
	if err != nil {
		t.Fatalf("NewProviders failed: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil {
		t.Fatal("expected local providers")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestGRPCTarget(t *testing.T) {
	cases := []struct {
		in        string
		host      string
		plaintext bool
	}{
		{"localhost:4317", "localhost:4317", true},
		{"http://collector:4317/v1/traces", "collector:4317", true},
		{"https://collector.internal:4317", "collector.internal:4317", false},
	}
	for _, tc := range cases {
		host, plaintext, err := grpcTarget(tc.in)
		if err != nil {
			t.Fatalf("grpcTarget(%q) failed: %v", tc.in, err)
		}
		if host != tc.host || plaintext != tc.plaintext {
			t.Fatalf("grpcTarget(%q) = %q,%v; want %q,%v", tc.in, host, plaintext, tc.host, tc.plaintext)
		}
	}

	if _, _, err := grpcTarget("http://"); err == nil {
		t.Fatal("expected missing host rejected")
	}
}

func TestNewProvidersWithEndpoint(t *testing.T) {
	// gRPC exporters dial lazily, so construction succeeds without a collector.
	p, err := NewProviders(context.Background(), "127.0.0.1:4317", "teamguard", true)
	if err != nil {
		t.Fatalf("NewProviders failed: %v", err)
	}
	p.SetGlobal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}
