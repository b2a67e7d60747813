// Package util holds small data structures shared across the engine.
package util

// StringSet is a set of strings, adapted from the set type the scheduler
// uses to track visited vertices and topological dependencies.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from the given strings.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts an item into the set.
func (s StringSet) Add(item string) {
	s[item] = struct{}{}
}

// Delete removes an item from the set.
func (s StringSet) Delete(item string) {
	delete(s, item)
}

// Includes reports whether the item is present.
func (s StringSet) Includes(item string) bool {
	_, ok := s[item]
	return ok
}

// Len is the number of items in the set.
func (s StringSet) Len() int {
	return len(s)
}

// List returns the set elements in no particular order.
func (s StringSet) List() []string {
	r := make([]string, 0, len(s))
	for v := range s {
		r = append(r, v)
	}
	return r
}

// Copy returns a shallow copy of the set.
func (s StringSet) Copy() StringSet {
	c := make(StringSet, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}
