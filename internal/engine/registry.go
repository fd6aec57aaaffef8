package engine

import (
	"fmt"
)

// Entry pairs a descriptor with its implementation
type Entry struct {
	Descriptor Descriptor
	Recognizer Recognizer
}

// Registry holds the immutable set of engines available to the worker
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// NewRegistry validates and freezes the engine set.
// Registration order is preserved and breaks ties within a class.
func NewRegistry(entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one engine is required")
	}

	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Descriptor.Name == "" {
			return nil, fmt.Errorf("engine descriptor name is required")
		}
		if e.Recognizer == nil {
			return nil, fmt.Errorf("engine %s has no recognizer", e.Descriptor.Name)
		}
		if _, dup := r.byName[e.Descriptor.Name]; dup {
			return nil, fmt.Errorf("engine %s registered twice", e.Descriptor.Name)
		}
		r.byName[e.Descriptor.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Lookup returns the engine registered under name
func (r *Registry) Lookup(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Descriptors lists every registered engine in registration order
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor
	}
	return out
}

// Resolve picks the engine for a preferred class. When no engine of that
// class supports lang, the nearest class is tried:
//
//	fast:     fast, balanced, accurate
//	balanced: balanced, fast, accurate
//	accurate: accurate, balanced, fast
//
// If no engine supports lang at all, the language filter is dropped.
func (r *Registry) Resolve(class CostClass, lang string) Descriptor {
	for _, c := range fallbackOrder(class) {
		if d, ok := r.first(c, lang); ok {
			return d
		}
	}
	for _, c := range fallbackOrder(class) {
		if d, ok := r.first(c, ""); ok {
			return d
		}
	}
	return r.entries[0].Descriptor
}

// Cheapest returns the lowest cost class registered
func (r *Registry) Cheapest() CostClass {
	min := r.entries[0].Descriptor.Class
	for _, e := range r.entries[1:] {
		if e.Descriptor.Class < min {
			min = e.Descriptor.Class
		}
	}
	return min
}

func (r *Registry) first(class CostClass, lang string) (Descriptor, bool) {
	for _, e := range r.entries {
		if e.Descriptor.Class == class && e.Descriptor.Supports(lang) {
			return e.Descriptor, true
		}
	}
	return Descriptor{}, false
}

func fallbackOrder(class CostClass) []CostClass {
	switch class {
	case ClassAccurate:
		return []CostClass{ClassAccurate, ClassBalanced, ClassFast}
	case ClassBalanced:
		return []CostClass{ClassBalanced, ClassFast, ClassAccurate}
	default:
		return []CostClass{ClassFast, ClassBalanced, ClassAccurate}
	}
}
