// Package otel publishes teamguard engine metrics through an OpenTelemetry Meter.
//
// Every counter becomes an Int64ObservableCounter. The latency histogram is exported
// as cumulative bucket gauges keyed by an "le" attribute plus a count gauge, because
// observable instruments cannot report pre-bucketed histograms. A single callback
// reads the engine snapshot per collection cycle. The caller owns the MeterProvider.
package otel
