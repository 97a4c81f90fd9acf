/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package probe

import "fmt"

// Registry is an ordered, immutable table of probes keyed by id. It is
// built once at startup; iteration order is the dashboard display order.
type Registry struct {
	order  []string
	probes map[string]Interface
}

// NewRegistry builds a registry from probes in display order. Duplicate
// ids are a programming error and fail construction.
func NewRegistry(probes ...Interface) (*Registry, error) {
	r := &Registry{probes: make(map[string]Interface, len(probes))}
	for _, p := range probes {
		id := p.ID()
		if _, dup := r.probes[id]; dup {
			return nil, fmt.Errorf("duplicate probe id %q", id)
		}
		r.probes[id] = p
		r.order = append(r.order, id)
	}
	return r, nil
}

// Get looks up a probe by id.
func (r *Registry) Get(id string) (Interface, bool) {
	p, ok := r.probes[id]
	return p, ok
}

// List returns all probes in display order.
func (r *Registry) List() []Interface {
	out := make([]Interface, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.probes[id])
	}
	return out
}

// IDs returns all probe ids in display order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
