package domain

import "fmt"

// Graph is the dependency view of a plan. It is built once per execution and
// never mutated; statuses are passed in by the caller.
type Graph struct {
	order []string
	deps  map[string][]string
}

// NewGraph validates subtasks and builds their dependency graph. Duplicate
// ids, references to unknown subtasks and cycles are configuration errors.
func NewGraph(subtasks []Subtask) (*Graph, error) {
	g := &Graph{
		order: make([]string, 0, len(subtasks)),
		deps:  make(map[string][]string, len(subtasks)),
	}

	for i := range subtasks {
		id := subtasks[i].ID
		if id == "" {
			return nil, fmt.Errorf("%w: subtask %d has no id", ErrConfiguration, i)
		}
		if _, dup := g.deps[id]; dup {
			return nil, fmt.Errorf("%w: duplicate subtask id %s", ErrConfiguration, id)
		}
		g.order = append(g.order, id)
		g.deps[id] = subtasks[i].DependencyIDs()
	}

	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("%w: subtask %s depends on unknown subtask %s", ErrConfiguration, id, dep)
			}
			if dep == id {
				return nil, fmt.Errorf("%w: subtask %s depends on itself", ErrConfiguration, id)
			}
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

// ValidateGraph reports whether subtasks form a well-formed DAG.
func ValidateGraph(subtasks []Subtask) error {
	_, err := NewGraph(subtasks)
	return err
}

func (g *Graph) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.order))

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = visiting
		for _, dep := range g.deps[id] {
			switch state[dep] {
			case visiting:
				return fmt.Errorf("%w: cycle detected involving %s -> %s", ErrConfiguration, id, dep)
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len is the number of subtasks in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Dependencies returns the ids id waits on.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Ready returns, in plan order, the pending subtasks whose dependencies are
// all completed. A subtask without dependencies is ready immediately.
func (g *Graph) Ready(statuses map[string]Status) []string {
	var ready []string
	for _, id := range g.order {
		if statuses[id] != StatusPending {
			continue
		}
		ok := true
		for _, dep := range g.deps[id] {
			if statuses[dep] != StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// BlockedByFailure reports whether any dependency of id has failed.
func (g *Graph) BlockedByFailure(id string, statuses map[string]Status) bool {
	for _, dep := range g.deps[id] {
		if statuses[dep] == StatusFailed {
			return true
		}
	}
	return false
}

// Blocked returns, in plan order, the pending subtasks that can never run
// because a dependency failed.
func (g *Graph) Blocked(statuses map[string]Status) []string {
	var blocked []string
	for _, id := range g.order {
		if statuses[id] == StatusPending && g.BlockedByFailure(id, statuses) {
			blocked = append(blocked, id)
		}
	}
	return blocked
}
