// Package api defines the request and response types of the ContextCache
// admin HTTP API.
//
// # API Overview
//
// The service exposes:
//   - Health checks: /health, /healthz, /ready, /version
//   - Cache administration under /api/v1/cache: statistics, entry listing,
//     clearing, single-entry deletion, runtime tuning and key building
//   - Context truncation: POST /api/v1/context/truncate
//
// Prometheus metrics are served on a separate listener at /metrics.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
