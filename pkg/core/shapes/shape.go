// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the metadata of a Tensor or of the value of a node of an expression graph.
//
// A Shape holds a DType (see github.com/gomlx/gopjrt/dtypes) and the dimensions of each axis.
//
// Shapes declared for placeholders may hold an UnknownDim (-1) in any axis, the usual case being the batch
// axis. Such a "wildcard" axis matches any dimension when a concrete tensor is bound to the placeholder, and it
// is propagated through the shape inference of the operations built on top of it.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: is the index of a dimension on a multidimensional Tensor.
//   - Dimension: the size of a multi-dimensions Tensor in one of its axes.
//   - DType: the data type of the unit element in a tensor. Tensors here hold dtypes.Float32 or dtypes.Float64.
//   - Scalar: is a shape where there are no axes (or dimensions), only a single value
//     of the associated DType.
//
// Example: the shape of a batch of vectors of 4 elements, with an unknown batch size, is created with
// `shapes.Make(dtypes.Float32, shapes.UnknownDim, 4)` and prints as `(Float32)[? 4]`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// UnknownDim marks an axis whose dimension is only known when a tensor is bound: a wildcard axis.
const UnknownDim = -1

// Shape represents the shape of either a Tensor or the expected shape
// of the value from a computation node.
//
// Use Make to create a new shape.
type Shape struct {
	DType      DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// Dimensions must be > 0, or UnknownDim for wildcard axes.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim <= 0 && dim != UnknownDim {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar(dtype DType) Shape {
	return Shape{DType: dtype}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// HasShape is implemented by tensors, nodes and shapes themselves.
type HasShape interface {
	Shape() Shape
}

// String implements stringer, pretty-prints the shape. Wildcard axes are printed as "?".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// HasWildcard returns whether any of the axes has an UnknownDim dimension.
func (s Shape) HasWildcard() bool {
	return slices.Contains(s.Dimensions, UnknownDim)
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
//
// It panics for shapes with wildcard axes, since their size is not known.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		if d == UnknownDim {
			exceptions.Panicf("Shape.Size() of shape %s with a wildcard axis is not known", s)
		}
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
// Wildcard axes are only equal to other wildcard axes, see Matches for wildcard matching.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	return s.EqualDimensions(s2)
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Matches returns whether the concrete shape is an instance of s: same dtype and rank, and equal dimensions on
// every axis that is not a wildcard in s.
func (s Shape) Matches(concrete Shape) bool {
	return s.CheckMatches(concrete) == nil
}

// CheckMatches is like Matches, but returns an error describing the first mismatch.
func (s Shape) CheckMatches(concrete Shape) error {
	if s.DType != concrete.DType {
		return errors.Errorf("dtype mismatch: wanted %s, got %s", s.DType, concrete.DType)
	}
	if s.Rank() != concrete.Rank() {
		return errors.Errorf("rank mismatch: wanted shape %s (rank %d), got %s (rank %d)",
			s, s.Rank(), concrete, concrete.Rank())
	}
	for axis, dim := range s.Dimensions {
		if dim == UnknownDim {
			continue
		}
		if dim != concrete.Dimensions[axis] {
			return errors.Errorf("dimension mismatch on axis %d: wanted shape %s, got %s", axis, s, concrete)
		}
	}
	return nil
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// CheckDims checks that the shape has the given dimensions and rank. A value of -1 in
// dimensions means it can take any value and is not checked.
//
// It returns an error if the rank is different or if any of the dimensions don't match.
func (s Shape) CheckDims(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape (%s) has incompatible rank %d (wanted %d)", s, s.Rank(), len(dimensions))
	}
	for ii, wantDim := range dimensions {
		if wantDim != -1 && s.Dimensions[ii] != wantDim {
			return errors.Errorf("shape (%s) axis %d has dimension %d, wanted %d (shape wanted=%v)", s, ii,
				s.Dimensions[ii], wantDim, dimensions)
		}
	}
	return nil
}

// AssertDims panics if the shape doesn't have the given dimensions, see CheckDims.
func (s Shape) AssertDims(dimensions ...int) {
	if err := s.CheckDims(dimensions...); err != nil {
		panic(err)
	}
}

// AdjustAxis returns the positive axis for the given axis, which may be negative, counting from the end.
// It returns an error if the axis is out of range.
func (s Shape) AdjustAxis(axis int) (int, error) {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		return 0, errors.Errorf("axis %d out-of-range for shape %s (rank %d)", axis, s, s.Rank())
	}
	return adjusted, nil
}
