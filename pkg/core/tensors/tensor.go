// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array of floats.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes dimensions) and their actual content, stored as a flat (1D) Go slice
// in row-major order. The supported dtypes are dtypes.Float32 and dtypes.Float64.
//
// The main use of tensors are to be used as values of the nodes of a computation graph: as inputs bound to
// placeholders, as the content of constants and variables, and as results and gradients of a session.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T Float](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T Float](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): Generic conversion, works with the float scalars
//     as well as with any arbitrary multidimensional slice of them. Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float64{{1,2}, {3, 5}, {7, 11}})`
//
//   - Zeros, Ones, Full and the corresponding ZerosLike, OnesLike and FullLike.
//
// Tensors are not safe for concurrent mutation: a tensor owned by a graph (e.g. a variable's value or gradient)
// is only changed by its owner.
package tensors

import (
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Float is the constraint for the Go types that can be stored in a Tensor.
type Float interface {
	float32 | float64
}

// MultiDimensionSlice lists the Go types a Tensor can be converted to/from. There are no union types in Go, so
// this is a list of the supported ranks.
type MultiDimensionSlice interface {
	float32 | float64 | []float32 | []float64 | [][]float32 | [][]float64 | [][][]float32 | [][][]float64 |
		[][][][]float32 | [][][][]float64
}

// Tensor represents a multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape, a data type (dtypes.DType) and its axes' dimensions, and their actual content stored as a flat (1D)
// array of values.
type Tensor struct {
	// shape of the tensor, immutable.
	shape shapes.Shape

	// flat is either a []float32 or a []float64, with shape.Size() elements.
	flat any
}

// DTypeFor returns the dtype for the Go type T.
func DTypeFor[T Float]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return dtypes.Float32
	case float64:
		return dtypes.Float64
	}
	return dtypes.InvalidDType
}

// IsSupported returns whether tensors can hold values of the given dtype.
func IsSupported(dtype dtypes.DType) bool {
	return dtype == dtypes.Float32 || dtype == dtypes.Float64
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if the shape has wildcard axes (see shapes.UnknownDim) or an unsupported dtype.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !IsSupported(shape.DType) {
		exceptions.Panicf("tensors.FromShape(%s): dtype %s not supported, only Float32 and Float64", shape, shape.DType)
	}
	if shape.HasWildcard() {
		exceptions.Panicf("tensors.FromShape(%s): cannot create tensor with unknown dimensions", shape)
	}
	t = &Tensor{shape: shape.Clone()}
	switch shape.DType {
	case dtypes.Float32:
		t.flat = make([]float32, shape.Size())
	case dtypes.Float64:
		t.flat = make([]float64, shape.Size())
	}
	return
}

// Shape of Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor's values.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the tensor is valid: not nil and holding data.
func (t *Tensor) Ok() bool {
	return t != nil && t.flat != nil && t.shape.Ok()
}

// AssertValid panics if the tensor is nil or doesn't hold data.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if t.flat == nil || !t.shape.Ok() {
		exceptions.Panicf("tensor has no data or an invalid shape")
	}
}
