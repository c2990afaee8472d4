// Package replay re-emits a stored event log with its original pacing.
//
// The delay between two events is their timestamp difference divided by the
// playback speed, capped at a maximum. Negative differences count as zero
// and events without a timestamp use a fixed fallback delay. A session can
// be paused, resumed, re-speeded or stopped while it runs; speed changes
// apply to delays that have not started yet. Replaying the same log always
// yields the same sequence of messages regardless of speed.
package replay
