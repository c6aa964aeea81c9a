// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a crawl of one or more searches.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/records for status and results.
package api
