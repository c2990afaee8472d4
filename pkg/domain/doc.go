// Package domain holds the task graph model shared by every layer.
//
// A Task owns an ordered list of Subtasks. Subtasks reference each other
// through Dependencies, forming a directed acyclic graph. Graph answers the
// two scheduling questions (which subtasks are ready, which are blocked by
// a failed dependency) without side effects. EventLog is the append-only
// record of scheduling decisions that replay consumes.
package domain
