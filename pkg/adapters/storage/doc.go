// Package storage provides ports.Store implementations.
//
// Implementations:
//   - redis: Redis strings with TTL plus Redis pub/sub
//   - memory: In-memory for testing and Redis-less runs
package storage
