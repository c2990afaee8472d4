// Package ports declares the interfaces the execution engine consumes.
//
// Adapters under pkg/adapters implement them against Redis, Prometheus,
// Anthropic and local processes; tests use the in-memory twins.
package ports
