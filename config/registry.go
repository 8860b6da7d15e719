package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dcshock/texpipe/pipeline"
)

// Registry maps names to segments and sorters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	segments map[string]pipeline.Segment
	sorters  map[string]pipeline.Sorter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		segments: make(map[string]pipeline.Segment),
		sorters:  make(map[string]pipeline.Sorter),
	}
}

// Register adds a segment under the given name. Overwrites any existing registration.
func (r *Registry) Register(name string, seg pipeline.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.segments == nil {
		r.segments = make(map[string]pipeline.Segment)
	}
	r.segments[name] = seg
}

// Get returns the segment for name, or nil and false if not found.
func (r *Registry) Get(name string) (pipeline.Segment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segments[name]
	return s, ok
}

// MustGet returns the segment for name, or panics if not found.
func (r *Registry) MustGet(name string) pipeline.Segment {
	s, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("config: segment %q not registered", name))
	}
	return s
}

// Names returns all registered segment names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.segments)
}

// RegisterSorter adds a sorter under the given name for use in branch stages.
func (r *Registry) RegisterSorter(name string, s pipeline.Sorter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sorters == nil {
		r.sorters = make(map[string]pipeline.Sorter)
	}
	r.sorters[name] = s
}

// Sorter returns the sorter for name, or nil and false if not found.
func (r *Registry) Sorter(name string) (pipeline.Sorter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sorters[name]
	return s, ok
}

// SorterNames returns all registered sorter names, sorted.
func (r *Registry) SorterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sorters)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
