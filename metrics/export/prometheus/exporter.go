package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/teamguard"
	"github.com/MrEthical07/teamguard/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() teamguard.MetricsSnapshot
	AuditDropped() uint64
	AuditDroppedByType() map[string]uint64
}

type counterDesc struct {
	id   teamguard.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   teamguard.MetricID
	desc *prometheus.Desc
}

// Collector implements prometheus.Collector over an engine snapshot.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	droppedType  *prometheus.Desc
	bounds       []float64
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ metricsSource        = (*teamguard.Engine)(nil)
)

// NewCollector builds a collector reading from source, usually a *teamguard.Engine.
func NewCollector(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		droppedType:  prometheus.NewDesc(internaldefs.AuditDroppedByTypeName, internaldefs.AuditDroppedByTypeHelp, []string{"type"}, nil),
		bounds:       internaldefs.BucketBounds(),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.histograms {
		ch <- d.desc
	}
	ch <- c.auditDropped
	ch <- c.droppedType
}

// Collect implements prometheus.Collector. A disabled engine yields zero values.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(snapshot.Counters[d.id]))
	}

	for _, d := range c.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[d.id]))
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, le := range c.bounds {
			buckets[le] = cumulative[i]
		}
		// The engine keeps bucket counts only, so the sum is not available.
		ch <- prometheus.MustNewConstHistogram(d.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
	for eventType, n := range c.source.AuditDroppedByType() {
		ch <- prometheus.MustNewConstMetric(c.droppedType, prometheus.CounterValue, float64(n), eventType)
	}
}

// Handler registers a collector for source on a fresh registry and serves it.
func Handler(source metricsSource) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
