package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory, the one used by every kernel.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= s.Dimensions[axis]
	}
	return
}

// Iter iterates sequentially over all indices of the given shape, in row-major order.
//
// It yields the flat index and a slice with the index on each axis. The yielded slice is owned by
// Iter and reused between iterations: don't change or keep it.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if !s.Ok() {
			return
		}
		for _, dim := range s.Dimensions {
			if dim <= 0 {
				panic(errors.Errorf("Shape.Iter on shape %s with non-positive dimension", s))
			}
		}
		indices := make([]int, s.Rank())
		size := s.Size()
		for flatIdx := range size {
			if !yield(flatIdx, indices) {
				return
			}
			for axis := s.Rank() - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
		}
	}
}
