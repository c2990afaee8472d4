// Package websocket streams task state to browsers.
//
//	/ws/:id                 task snapshots until a terminal status
//	/ws/:id/logs            the stored log, then new entries as they land
//	/ws/:id/replay          paced replay of the stored log
//	/api/ws/:id/replay      same replay session
//
// A client disconnecting only tears down its own subscription; running
// tasks are unaffected.
package websocket
