// Package state maps tasks, requests and event logs onto the key layout of
// the external store.
//
//	task:<id>            full Task snapshot
//	task_request:<id>    original submission
//	task_logs:<id>       full event log
//	task_updates:<id>    channel, one Task snapshot per write
//	task_logs:<id>       channel, JSON list of newly appended entries
//
// Every write replaces the whole value, so readers never observe a partial
// snapshot. A write whose bytes equal the previous write of the same key is
// skipped, which makes repeated snapshots invisible to observers.
package state
