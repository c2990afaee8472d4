package domain

import (
	"sort"
	"time"
)

// Action tags a scheduling decision in the event log.
type Action string

const (
	ActionStarted            Action = "started"
	ActionCompleted          Action = "completed"
	ActionFailed             Action = "failed"
	ActionContainerStarted   Action = "container_started"
	ActionContainerCompleted Action = "container_completed"
	ActionContainerFailed    Action = "container_failed"
	ActionTaskCompleted      Action = "task_completed"
	ActionTaskFailed         Action = "task_failed"
)

// LogEntry is one scheduling event.
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	SubtaskID   string    `json:"subtask_id,omitempty"`
	SubtaskType string    `json:"subtask_type,omitempty"`
	Action      Action    `json:"action"`
	Details     string    `json:"details,omitempty"`
}

// EventLog is an append-only list ordered by timestamp; entries with equal
// timestamps keep insertion order.
type EventLog struct {
	entries []LogEntry
	pending []LogEntry
}

// NewEventLog seeds a log with previously persisted entries.
func NewEventLog(existing []LogEntry) *EventLog {
	l := &EventLog{entries: append([]LogEntry(nil), existing...)}
	SortEntries(l.entries)
	return l
}

// Append inserts e after every entry whose timestamp is not later than its
// own, so late-arriving entries still land in timestamp order.
func (l *EventLog) Append(e LogEntry) {
	e.Timestamp = e.Timestamp.UTC()
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Timestamp.After(e.Timestamp)
	})
	l.entries = append(l.entries, LogEntry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	l.pending = append(l.pending, e)
}

// Entries returns a copy of the full log.
func (l *EventLog) Entries() []LogEntry {
	return append([]LogEntry(nil), l.entries...)
}

// Len is the number of entries.
func (l *EventLog) Len() int { return len(l.entries) }

// TakeDelta returns the entries appended since the previous call.
func (l *EventLog) TakeDelta() []LogEntry {
	d := l.pending
	l.pending = nil
	return d
}

// SortEntries orders entries by timestamp, keeping insertion order on ties.
func SortEntries(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
