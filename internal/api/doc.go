// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes. readyz turns 200 once the crawl
//     loop is iterating.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for a JSON snapshot of the current run.
//   - GET /checkpoint for the persisted cursor.
package api
