package tools

import (
	"fmt"
	"sort"
)

// Registry is the fixed table of capabilities, built once at startup.
type Registry struct {
	tools map[Name]Tool
}

// NewRegistry registers tools by name. Nil tools and duplicate names are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[Name]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("nil tool in registry")
		}
		if _, dup := r.tools[t.Name()]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r, nil
}

func (r *Registry) Get(name Name) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Resolve looks up every name, failing on the first unregistered one.
func (r *Registry) Resolve(names ...Name) (map[Name]Tool, error) {
	out := make(map[Name]Tool, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			return nil, fmt.Errorf("capability %q is not registered", n)
		}
		out[n] = t
	}
	return out, nil
}

// Names lists registered capabilities in sorted order.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
