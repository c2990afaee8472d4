// Package isolation provides ports.IsolationBackend implementations.
//
// Implementations:
//   - process: runs each subtask as a separate OS process with the
//     subtask id, worker type and JSON context in its environment
package isolation
