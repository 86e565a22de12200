// Package model defines model parts (components) with explicit dependencies
// and a few small trainable components built on the autodiff graph.
package model

import (
	"sort"

	"github.com/pkg/errors"
)

// ComponentID names a component uniquely within a model
type ComponentID string

// Component is a named part of a model. Dependencies lists the components
// whose outputs it reads.
type Component interface {
	ID() ComponentID
	Dependencies() []Component
}

// ComponentSet is a set of components keyed by ID
type ComponentSet map[ComponentID]Component

// Collect returns c and every component it transitively depends on
func Collect(c Component) ComponentSet {
	set := make(ComponentSet)
	if c == nil {
		return set
	}
	stack := []Component{c}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top == nil {
			continue
		}
		if _, seen := set[top.ID()]; seen {
			continue
		}
		set[top.ID()] = top
		stack = append(stack, top.Dependencies()...)
	}
	return set
}

// Union merges component sets. It fails when called with no sets.
func Union(sets ...ComponentSet) (ComponentSet, error) {
	if len(sets) == 0 {
		return nil, errors.New("union of zero component sets")
	}
	out := make(ComponentSet)
	for _, s := range sets {
		for id, c := range s {
			out[id] = c
		}
	}
	return out, nil
}

// Contains reports whether the set holds a component with the given ID
func (s ComponentSet) Contains(id ComponentID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the IDs in the set, sorted
func (s ComponentSet) IDs() []ComponentID {
	ids := make([]ComponentID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
