// Package api hosts the read-only HTTP status server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/jobs, /v1/jobs/{job_id} for job progress.
//   - GET /v1/entities?name=... and /v1/entities/{entity_id} for crawl results.
package api
