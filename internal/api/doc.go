// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch runs one bounded parallel batch and returns every outcome.
//   - GET /v1/batches/{batch_id} returns an archived batch record.
//   - POST /v1/ask streams a researched answer as server-sent events.
package api
