// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"

	"github.com/pkg/errors"
)

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout
// in memory.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int) {
	return StridesOf(s.Dimensions)
}

// StridesOf returns the row-major strides of the given dimensions. See Shape.Strides.
func StridesOf(dimensions []int) (strides []int) {
	rank := len(dimensions)
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= dimensions[axis]
	}
	return
}

// BroadcastStrides returns the strides to use when reading a row-major tensor of dimensions `from` while iterating
// over the (broadcast) dimensions `to`: axes that are broadcast get a stride of 0, and missing leading axes are
// also 0.
//
// It returns an error if `from` is not broadcastable to `to`.
func BroadcastStrides(from, to []int) ([]int, error) {
	if len(from) > len(to) {
		return nil, errors.Errorf("cannot broadcast dimensions %v to %v: rank is larger", from, to)
	}
	fromStrides := StridesOf(from)
	strides := make([]int, len(to))
	offset := len(to) - len(from)
	for axis, dim := range from {
		switch dim {
		case to[offset+axis]:
			strides[offset+axis] = fromStrides[axis]
		case 1:
			strides[offset+axis] = 0
		default:
			return nil, errors.Errorf("cannot broadcast dimensions %v to %v: axis %d has dimension %d",
				from, to, axis, dim)
		}
	}
	return strides, nil
}

// Iter iterates sequentially over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	dims := s.Dimensions
	return func(yield func(int, []int) bool) {
		if !s.Ok() {
			return
		}
		rank := len(dims)
		indices := make([]int, rank)
		for _, dim := range dims {
			if dim <= 0 {
				return
			}
		}
		flatIdx := 0
	yielder:
		for {
			if !yield(flatIdx, indices) {
				return
			}
			flatIdx++
			// Row-major order: the last index changes fastest.
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < dims[axis] {
					continue yielder
				}
				indices[axis] = 0
			}
			break
		}
	}
}
