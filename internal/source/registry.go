// Package source holds the set of feeds the ingestor polls.
package source

import "strings"

// Registry is the ordered, duplicate-free list of configured source ids.
type Registry struct {
	sources []string
}

// NewRegistry trims and lower-cases ids and drops blanks and duplicates,
// keeping the first occurrence.
func NewRegistry(ids []string) *Registry {
	seen := make(map[string]struct{}, len(ids))
	sources := make([]string, 0, len(ids))

	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		id = strings.TrimPrefix(id, "r/")
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sources = append(sources, id)
	}

	return &Registry{sources: sources}
}

// Sources returns a copy of the registered ids in configuration order.
func (r *Registry) Sources() []string {
	out := make([]string, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Len() int {
	return len(r.sources)
}
