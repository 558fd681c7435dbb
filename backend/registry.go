package backend

import (
	"sort"

	"github.com/hupe1980/agentexchange/core"
)

// Registry maps each BackendType to its implementation.
type Registry map[core.BackendType]core.Backend

// NewRegistry indexes backends by their Type. A later backend of the same type
// replaces an earlier one.
func NewRegistry(backends ...core.Backend) Registry {
	r := make(Registry, len(backends))
	for _, b := range backends {
		r[b.Type()] = b
	}
	return r
}

// Get returns the backend for bt or an InvalidInput error.
func (r Registry) Get(bt core.BackendType) (core.Backend, error) {
	b, ok := r[bt]
	if !ok {
		return nil, core.Errorf(core.KindInvalidInput, "backend", "no backend registered for type %q", bt)
	}
	return b, nil
}

// Types returns the registered backend types, sorted.
func (r Registry) Types() []core.BackendType {
	out := make([]core.BackendType, 0, len(r))
	for bt := range r {
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
