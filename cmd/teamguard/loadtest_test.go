package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	if got := percentile(samples, 50); got != 50*time.Millisecond {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentile(samples, 0); got != time.Millisecond {
		t.Fatalf("p0 = %v", got)
	}
	if got := percentile(samples, 100); got != 100*time.Millisecond {
		t.Fatalf("p100 = %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}

func TestComputeStats(t *testing.T) {
	s := computeStats(time.Second, []time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond}, 1)
	if s.ops != 3 || s.failures != 1 || s.p50 != 2*time.Millisecond || s.opsPerS != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if empty := computeStats(time.Second, nil, 0); empty.ops != 0 || empty.total != time.Second {
		t.Fatalf("unexpected empty stats %+v", empty)
	}
}
