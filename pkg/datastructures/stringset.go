// Package datastructures provides small shared collection types.
package datastructures

// StringSet is a set of strings, abstracted on top of a map[string]struct{}.
// It is not safe for concurrent use.
type StringSet map[string]struct{}

// NewStringSet creates a StringSet with the given initial capacity.
func NewStringSet(initialCapacity int) StringSet {
	return make(StringSet, initialCapacity)
}

// Add inserts s into the set. Returns true if the set changed.
func (set StringSet) Add(s string) bool {
	_, exists := set[s]
	set[s] = struct{}{}
	return !exists
}

// Remove deletes s from the set. Returns true if the set changed.
func (set StringSet) Remove(s string) bool {
	_, exists := set[s]
	delete(set, s)
	return exists
}

// Exists reports whether s is in the set.
func (set StringSet) Exists(s string) bool {
	_, exists := set[s]
	return exists
}
