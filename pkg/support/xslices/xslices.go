// Package xslices provide map helpers missing from the standard slices and maps packages.
package xslices

import (
	"cmp"
	"slices"
)

// Keys returns the keys of a map in the form of a slice, in no particular order.
func Keys[K comparable, V any](m map[K]V) []K {
	s := make([]K, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

// SortedKeys returns the sorted keys of a map in the form of a slice.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	s := Keys(m)
	slices.Sort(s)
	return s
}
