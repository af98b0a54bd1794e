package prompts

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the prompt revisions of each agent variant.
type Registry struct {
	mu       sync.RWMutex
	variants map[string][]*Prompt // sorted by version, oldest first
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry holding the built-in prompts.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[string][]*Prompt)}
}

// Register adds p, replacing an existing prompt with the same variant and version.
func (r *Registry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.variants[p.Variant]
	for i, existing := range list {
		if existing.Version == p.Version {
			list[i] = p
			return
		}
	}
	list = append(list, p)
	sort.Slice(list, func(i, j int) bool { return list[i].Version.less(list[j].Version) })
	r.variants[p.Variant] = list
}

// Lookup returns the prompt of variant at version. An empty version selects
// the newest non-deprecated revision, or the newest one if all are deprecated.
func (r *Registry) Lookup(variant string, version Version) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.variants[variant]
	if len(list) == 0 {
		return nil, fmt.Errorf("no prompt registered for variant %q", variant)
	}
	if version == "" {
		for i := len(list) - 1; i >= 0; i-- {
			if !list[i].Deprecated {
				return list[i], nil
			}
		}
		return list[len(list)-1], nil
	}
	for _, p := range list {
		if p.Version == version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("prompt %s version %s not found (available: %s)",
		variant, version, strings.Join(versionStrings(list), ", "))
}

// Versions returns the revisions registered for variant, oldest first.
func (r *Registry) Versions(variant string) []*Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Prompt(nil), r.variants[variant]...)
}

// Variants returns the variants that have prompts, sorted by name.
func (r *Registry) Variants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func versionStrings(list []*Prompt) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = string(p.Version)
	}
	return out
}
