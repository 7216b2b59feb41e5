package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the providers configured under inference.providers. It is
// filled at startup and read by concurrent inference calls.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) error {
	id := p.ID()
	if id == "" {
		return fmt.Errorf("provider has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

// Resolve returns the provider serving ref and the model name to send it.
func (r *Registry) Resolve(ref ModelRef) (Provider, string, error) {
	id, model, ok := ref.Split()
	if !ok {
		return nil, "", fmt.Errorf("invalid model ref %q: expected provider/model", ref)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, "", fmt.Errorf("model %s: provider %q is not configured (have: %s)",
			ref, id, strings.Join(r.idsLocked(), ", "))
	}
	return p, model, nil
}

// IDs lists the registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
