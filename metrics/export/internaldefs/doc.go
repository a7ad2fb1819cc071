// Package internaldefs holds the metric names, help strings and bucket bounds shared
// by the Prometheus and OpenTelemetry exporters. It performs no I/O.
package internaldefs
