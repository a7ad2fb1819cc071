package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrEthical07/teamguard"
)

type fakeSource struct {
	snapshot teamguard.MetricsSnapshot
	dropped  uint64
	byType   map[string]uint64
}

func (f fakeSource) MetricsSnapshot() teamguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }
func (f fakeSource) AuditDroppedByType() map[string]uint64      { return f.byType }

func populated() fakeSource {
	return fakeSource{
		snapshot: teamguard.MetricsSnapshot{
			Counters: map[teamguard.MetricID]uint64{
				teamguard.MetricLoginSuccess: 7,
			},
			Histograms: map[teamguard.MetricID][]uint64{
				teamguard.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
		byType:  map[string]uint64{"LOGIN_FAILURE": 2},
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(populated())

	expected := `
# HELP teamguard_login_success_total Successful logins.
# TYPE teamguard_login_success_total counter
teamguard_login_success_total 7
# HELP teamguard_audit_dropped_total Audit events dropped because the dispatcher queue was full.
# TYPE teamguard_audit_dropped_total counter
teamguard_audit_dropped_total 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"teamguard_login_success_total", "teamguard_audit_dropped_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

func TestCollectorDropsByType(t *testing.T) {
	c := NewCollector(populated())

	expected := `
# HELP teamguard_audit_dropped_by_type_total Audit events dropped because the dispatcher queue was full, by event type.
# TYPE teamguard_audit_dropped_by_type_total counter
teamguard_audit_dropped_by_type_total{type="LOGIN_FAILURE"} 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "teamguard_audit_dropped_by_type_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	c := NewCollector(populated())

	expected := `
# HELP teamguard_authenticate_latency_seconds Authenticate latency.
# TYPE teamguard_authenticate_latency_seconds histogram
teamguard_authenticate_latency_seconds_bucket{le="0.005"} 1
teamguard_authenticate_latency_seconds_bucket{le="0.01"} 3
teamguard_authenticate_latency_seconds_bucket{le="0.025"} 6
teamguard_authenticate_latency_seconds_bucket{le="0.05"} 10
teamguard_authenticate_latency_seconds_bucket{le="0.1"} 15
teamguard_authenticate_latency_seconds_bucket{le="0.25"} 21
teamguard_authenticate_latency_seconds_bucket{le="0.5"} 28
teamguard_authenticate_latency_seconds_bucket{le="+Inf"} 36
teamguard_authenticate_latency_seconds_sum 0
teamguard_authenticate_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "teamguard_authenticate_latency_seconds"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

func TestCollectorDisabledEngineYieldsZeros(t *testing.T) {
	c := NewCollector(fakeSource{snapshot: teamguard.MetricsSnapshot{}})
	if n := testutil.CollectAndCount(c, "teamguard_login_failure_total"); n != 1 {
		t.Fatalf("expected one zero-valued sample, got %d", n)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	h, err := Handler(populated())
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "teamguard_login_success_total 7") {
		t.Fatalf("expected login counter in scrape, got:\n%s", body)
	}
}
