// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"

	"github.com/pkg/errors"
)

// BroadcastDims returns the dimensions resulting from broadcasting the given dimensions together, following the
// usual (numpy) rules: axes are aligned from the right, and an axis of dimension 1 is expanded to match the other
// operand.
//
// Wildcard axes (UnknownDim) are resolved optimistically: a wildcard against 1 or against another wildcard stays a
// wildcard, and a wildcard against a concrete dimension n becomes n. The concrete values are validated again
// when the tensors are known.
func BroadcastDims(dims ...[]int) ([]int, error) {
	rank := 0
	for _, d := range dims {
		rank = max(rank, len(d))
	}
	result := make([]int, rank)
	for ii := range result {
		result[ii] = 1
	}
	for _, d := range dims {
		offset := rank - len(d)
		for axis, dim := range d {
			current := result[offset+axis]
			switch {
			case dim == current:
			case dim == 1:
			case current == 1:
				result[offset+axis] = dim
			case dim == UnknownDim:
				// current is a concrete dimension > 1: keep it.
			case current == UnknownDim:
				result[offset+axis] = dim
			default:
				return nil, errors.Errorf("dimensions %v are not broadcastable: axis %d has incompatible dimensions %d and %d",
					dims, offset+axis, current, dim)
			}
		}
	}
	return result, nil
}

// Broadcast returns the shape resulting from broadcasting the given shapes, which must all share the same dtype.
// See BroadcastDims for details.
func Broadcast(shapes ...Shape) (Shape, error) {
	if len(shapes) == 0 {
		return Invalid(), errors.New("shapes.Broadcast requires at least one shape")
	}
	dims := make([][]int, len(shapes))
	for ii, s := range shapes {
		if s.DType != shapes[0].DType {
			return Invalid(), errors.Errorf("cannot broadcast shapes of different dtypes: %v", shapes)
		}
		dims[ii] = s.Dimensions
	}
	result, err := BroadcastDims(dims...)
	if err != nil {
		return Invalid(), err
	}
	return Shape{DType: shapes[0].DType, Dimensions: result}, nil
}

// IsBroadcastableTo returns whether s can be broadcast to the target shape, ignoring the dtype.
// Contrary to Broadcast, this is not symmetric: the result of the broadcast must be target itself.
func (s Shape) IsBroadcastableTo(target Shape) bool {
	if s.Rank() > target.Rank() {
		return false
	}
	result, err := BroadcastDims(s.Dimensions, target.Dimensions)
	if err != nil {
		return false
	}
	return slices.Equal(result, target.Dimensions)
}
