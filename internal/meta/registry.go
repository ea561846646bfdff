package meta

import (
	"sort"
	"sync"
)

// Registry holds DocType metadata keyed by name. It is safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	doctypes map[string]*DocType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{doctypes: make(map[string]*DocType)}
}

// Register adds or replaces a DocType.
func (r *Registry) Register(dt *DocType) {
	r.mu.Lock()
	r.doctypes[dt.Name] = dt
	r.mu.Unlock()
}

// DocType returns the named DocType, or nil if not found.
func (r *Registry) DocType(name string) *DocType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doctypes[name]
}

// Remove drops a DocType.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.doctypes, name)
	r.mu.Unlock()
}

// Names returns all registered DocType names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.doctypes))
	for n := range r.doctypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WithChildren returns dt followed by the DocTypes of its table fields.
func (r *Registry) WithChildren(name string) []*DocType {
	dt := r.DocType(name)
	if dt == nil {
		return nil
	}
	out := []*DocType{dt}
	for _, f := range dt.TableFields() {
		if child := r.DocType(f.Options); child != nil {
			out = append(out, child)
		}
	}
	return out
}
