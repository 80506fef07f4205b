package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-memory index of jobs. Inserts of distinct jobs and
// lookups never block each other.
type Registry struct {
	jobs sync.Map // id -> *Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Put adds j. Identifiers must be unique.
func (r *Registry) Put(j *Job) error {
	if _, loaded := r.jobs.LoadOrStore(j.id, j); loaded {
		return fmt.Errorf("job %s already registered", j.id)
	}
	return nil
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Job, bool) {
	v, ok := r.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// List returns snapshots of every job, oldest first.
func (r *Registry) List() []Snapshot {
	out := []Snapshot{}
	r.jobs.Range(func(_, v any) bool {
		out = append(out, v.(*Job).Snapshot())
		return true
	})
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}
