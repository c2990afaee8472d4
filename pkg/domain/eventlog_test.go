package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEventLogOrdering(t *testing.T) {
	l := NewEventLog(nil)

	l.Append(LogEntry{Timestamp: fixedTime, Action: ActionStarted, SubtaskID: "a"})
	l.Append(LogEntry{Timestamp: fixedTime.Add(2 * time.Second), Action: ActionCompleted, SubtaskID: "a"})
	// Produced by a worker while it ran, delivered after the later entry.
	l.Append(LogEntry{Timestamp: fixedTime.Add(time.Second), Action: ActionContainerStarted, SubtaskID: "a"})
	// Same timestamp as the first entry keeps insertion order.
	l.Append(LogEntry{Timestamp: fixedTime, Action: ActionStarted, SubtaskID: "b"})

	got := l.Entries()
	assert.Len(t, got, 4)
	assert.Equal(t, "a", got[0].SubtaskID)
	assert.Equal(t, "b", got[1].SubtaskID)
	assert.Equal(t, ActionContainerStarted, got[2].Action)
	assert.Equal(t, ActionCompleted, got[3].Action)

	delta := l.TakeDelta()
	assert.Len(t, delta, 4)
	assert.Empty(t, l.TakeDelta())

	l.Append(LogEntry{Timestamp: fixedTime.Add(3 * time.Second), Action: ActionTaskCompleted})
	assert.Len(t, l.TakeDelta(), 1)
	assert.Equal(t, 5, l.Len())
}

func TestNewEventLogSortsExisting(t *testing.T) {
	l := NewEventLog([]LogEntry{
		{Timestamp: fixedTime.Add(time.Second), Action: ActionCompleted},
		{Timestamp: fixedTime, Action: ActionStarted},
	})
	got := l.Entries()
	assert.Equal(t, ActionStarted, got[0].Action)
	assert.Empty(t, l.TakeDelta(), "seeded entries are not a delta")
}
