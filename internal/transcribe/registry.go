package transcribe

import "github.com/alikebrahim/neuravox/internal/errors"

// Registry looks up a Backend by its stable id, as configured via
// transcription.default_backend or a per-call override.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds a Registry from a fixed set of backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.ID()] = b
	}
	return r
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, error) {
	b, ok := r.backends[id]
	if !ok {
		return nil, errors.Newf("unknown transcription backend: %s", id).
			Category(errors.CategoryValidation).Context("backend_id", id).Build()
	}
	return b, nil
}

// IDs lists every backend id registered, for diagnostics and validation.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	return ids
}
