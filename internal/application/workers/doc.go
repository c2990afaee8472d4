// Package workers resolves subtask types to workers and runs them.
//
// The registry is static and validated at startup. The dispatcher turns
// every run into a terminal domain.Outcome:
//   - direct mode calls the registered worker, converting errors and panics
//     into failed outcomes
//   - isolation mode starts the run on an IsolationBackend, polls its status
//     until it exits or the timeout elapses, then reads the result and always
//     removes the run
//
// The health monitor periodically logs dispatch activity.
package workers
