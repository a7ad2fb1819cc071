// Package prometheus exposes teamguard engine metrics as a client_golang Collector.
//
// The collector reads [teamguard.Engine.MetricsSnapshot] on every scrape, so engine
// counters stay lock-free and nothing is double counted. Callers register it with a
// registry of their choosing and mount promhttp themselves; [Handler] is a shortcut
// for a dedicated registry.
package prometheus
