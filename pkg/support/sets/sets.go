// Package sets implement a set type as a `map[T]struct{}` with a few helpers used when
// validating placements and plans.
package sets

import (
	"cmp"
	"slices"
)

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set. It returns true if all keys were new.
func (s Set[T]) Insert(keys ...T) (allNew bool) {
	allNew = true
	for _, key := range keys {
		if _, found := s[key]; found {
			allNew = false
			continue
		}
		s[key] = struct{}{}
	}
	return
}

// Sorted returns the elements of s in ascending order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	out := make([]T, 0, len(s))
	for key := range s {
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}
