// Package http provides the HTTP REST API.
//
// The HTTP server exposes endpoints for:
//   - Task submission, lookup, listing and deletion
//   - Event logs and replay data
//   - Health checks
//   - Prometheus metrics
package http
