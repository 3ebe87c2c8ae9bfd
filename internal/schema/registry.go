package schema

import "sync"

// Registry holds the current schema behind a read-write lock. Pipeline
// invocations take an immutable snapshot before any matching starts, so no
// lock is ever held across a matcher or backend call; table mutation takes
// the write lock exclusively.
type Registry struct {
	mu      sync.RWMutex
	current Schema
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Snapshot returns a deep copy of the current schema. Callers may read it
// freely while tables are added or removed concurrently.
func (r *Registry) Snapshot() Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.clone()
}

func (r *Registry) Replace(s Schema) {
	cloned := s.clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = cloned
}

// Upsert inserts the table or replaces an existing table of the same name.
func (r *Registry) Upsert(t Table) {
	cloned := Schema{Tables: []Table{t}}.clone().Tables[0]
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.current.Tables {
		if existing.Name == cloned.Name {
			r.current.Tables[i] = cloned
			return
		}
	}
	r.current.Tables = append(r.current.Tables, cloned)
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.current.Tables {
		if existing.Name == name {
			r.current.Tables = append(r.current.Tables[:i], r.current.Tables[i+1:]...)
			return true
		}
	}
	return false
}
