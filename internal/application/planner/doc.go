// Package planner turns a task request into a subtask graph.
//
// Subtasks supplied with the request are used as given, with missing ids
// filled in. Otherwise the description is matched against keyword rules,
// one subtask per matching worker type, and a result_orchestration subtask
// that depends on every other subtask closes the plan.
package planner
