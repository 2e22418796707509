// Package api hosts the operator HTTP surface used in serve mode. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a pipeline run in the background.
//   - GET /v1/runs/last for the summaries of the most recent run.
package api
