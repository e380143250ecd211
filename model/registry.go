package model

import "sort"

// Registry holds the models of an application by resource. The stream
// handler uses it to find the mirror of a changed table.
type Registry struct {
	byResource map[string]*Model
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byResource: make(map[string]*Model),
	}
}

// Register adds models to the registry. A later model replaces an earlier
// one with the same resource. Models without a resource are ignored.
func (r *Registry) Register(models ...*Model) {
	for _, m := range models {
		if m == nil || m.resource == "" {
			continue
		}
		r.byResource[m.resource] = m
	}
}

// Lookup returns the model stored in resource.
func (r *Registry) Lookup(resource string) (*Model, bool) {
	m, ok := r.byResource[resource]
	return m, ok
}

// Resources returns every registered resource, sorted.
func (r *Registry) Resources() []string {
	names := make([]string, 0, len(r.byResource))
	for name := range r.byResource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMirror returns true if the model of resource has a mirror.
func (r *Registry) HasMirror(resource string) bool {
	m, ok := r.byResource[resource]
	return ok && m.mirror != nil
}
