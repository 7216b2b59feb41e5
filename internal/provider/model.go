package provider

import (
	"fmt"
	"strings"
)

// ModelRef is how inference.model and inference.fallback_models name a
// model: "<provider id>/<model>". The provider ID selects an entry under
// inference.providers; everything after the first slash goes to that API
// untouched, so "openrouter/meta-llama/llama-3-8b" is a valid ref.
type ModelRef string

// Split returns the provider ID and model name, or ok=false when either
// part is empty.
func (r ModelRef) Split() (providerID, model string, ok bool) {
	providerID, model, ok = strings.Cut(string(r), "/")
	if !ok || providerID == "" || model == "" {
		return "", "", false
	}
	return providerID, model, true
}

// Provider returns the provider ID, or "" for a malformed ref.
func (r ModelRef) Provider() string {
	id, _, _ := r.Split()
	return id
}

// Model returns the model name sent to the provider, or "" for a malformed
// ref.
func (r ModelRef) Model() string {
	_, m, _ := r.Split()
	return m
}

func (r ModelRef) String() string { return string(r) }

func (r ModelRef) Valid() bool {
	_, _, ok := r.Split()
	return ok
}

// ParseModelRef trims s and checks it has the provider/model form.
func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(strings.TrimSpace(s))
	if !ref.Valid() {
		return "", fmt.Errorf("invalid model ref %q: expected provider/model", s)
	}
	return ref, nil
}

// ParseModelRefs parses an ordered fallback list. The first bad entry fails
// the whole list.
func ParseModelRefs(ss []string) ([]ModelRef, error) {
	refs := make([]ModelRef, 0, len(ss))
	for i, s := range ss {
		ref, err := ParseModelRef(s)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
