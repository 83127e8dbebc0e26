// Package httpserver serves the node's operational endpoints while a
// snapshot runs.
//
// Routes:
//
//	GET /health   liveness probe
//	GET /ready    ready once a snapshot session has been started
//	GET /status   JSON snapshot of the node's progress
//	GET /metrics  Prometheus exposition
//
// Every route is wrapped in the RequestID, Recover and Access middlewares.
package httpserver
