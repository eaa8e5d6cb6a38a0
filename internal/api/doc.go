// Package api hosts the operator HTTP surface that runs beside the pool
// listener. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /debug/pool for a JSON snapshot of dispatcher activity.
package api
