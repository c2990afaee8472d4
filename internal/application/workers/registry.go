package workers

import (
	"fmt"
	"sort"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
)

// Registry maps subtask types to workers. It is built once at startup and
// never mutated afterwards.
type Registry struct {
	workers map[string]ports.Worker
}

// NewRegistry validates and copies the type to worker mapping.
func NewRegistry(workers map[string]ports.Worker) (*Registry, error) {
	r := &Registry{workers: make(map[string]ports.Worker, len(workers))}
	for kind, w := range workers {
		if kind == "" {
			return nil, fmt.Errorf("%w: empty worker type", domain.ErrConfiguration)
		}
		if w == nil {
			return nil, fmt.Errorf("%w: nil worker for type %s", domain.ErrConfiguration, kind)
		}
		r.workers[kind] = w
	}
	return r, nil
}

// Resolve returns the worker registered for kind.
func (r *Registry) Resolve(kind string) (ports.Worker, bool) {
	w, ok := r.workers[kind]
	return w, ok
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.workers))
	for k := range r.workers {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
