// Package metric provides Prometheus metrics for snapstream.
//
//   - prometheus.go: the engine registry and /metrics handler
//   - collector.go: collectors that sample the buffer pool and the
//     coordination store on scrape
//
// All recording methods are safe to call on a nil *Registry, so engine code
// does not need to check whether metrics are enabled.
package metric
