// Package metric provides Prometheus metrics for PermaMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: metric registry and HTTP handler
//   - collector.go: custom collector for ledger shard statistics
//
// Metrics include:
//
//   - Token verification and rejection counters
//   - Request latency histograms per operation
//   - Consensus commit and view change counters
//   - Per-shard record and sealed block gauges
//
// Metrics are exposed at /metrics in Prometheus format under the
// "permamesh" namespace.
//
// @design DS-0502
package metric
