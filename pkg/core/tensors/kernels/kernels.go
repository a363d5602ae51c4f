// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements the numeric primitives used to evaluate and differentiate computation graphs on
// local tensors: elementwise maps with numpy-style broadcasting, matrix multiplication, transposition,
// reductions and softmax.
//
// All kernels return new tensors, except the ones suffixed with InPlace. Input tensors must share the same dtype,
// either dtypes.Float32 or dtypes.Float64. Shape problems are returned as errors, so callers can report them
// with the context they have.
package kernels

import (
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// flatOf returns the flat data of the tensor, it is not a copy.
func flatOf[T tensors.Float](t *tensors.Tensor) (flat []T) {
	tensors.MutableFlatData(t, func(f []T) { flat = f })
	return
}

// commonDType returns the dtype shared by all tensors, or an error.
func commonDType(op string, inputs ...*tensors.Tensor) (dtypes.DType, error) {
	if len(inputs) == 0 {
		return dtypes.InvalidDType, errors.Errorf("%s: no inputs given", op)
	}
	dtype := inputs[0].DType()
	for _, t := range inputs[1:] {
		if t.DType() != dtype {
			return dtypes.InvalidDType, errors.Errorf("%s: inputs have different dtypes %s and %s", op, dtype, t.DType())
		}
	}
	return dtype, nil
}

// walk iterates over all indices of dims in row-major order. For each position it calls fn with the flat index
// and one offset per set of strides given (the offsets slice is reused between calls).
func walk(dims []int, strides [][]int, fn func(flatIdx int, offsets []int)) {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	rank := len(dims)
	indices := make([]int, rank)
	offsets := make([]int, len(strides))
	for flatIdx := range size {
		fn(flatIdx, offsets)
		for axis := rank - 1; axis >= 0; axis-- {
			indices[axis]++
			for ii, s := range strides {
				offsets[ii] += s[axis]
			}
			if indices[axis] < dims[axis] {
				break
			}
			for ii, s := range strides {
				offsets[ii] -= s[axis] * dims[axis]
			}
			indices[axis] = 0
		}
	}
}

// MapN applies fn elementwise over the inputs, broadcast together. The args slice passed to fn holds one value
// per input, and it is reused between calls.
func MapN(fn func(args []float64) float64, inputs ...*tensors.Tensor) (*tensors.Tensor, error) {
	dtype, err := commonDType("MapN", inputs...)
	if err != nil {
		return nil, err
	}
	allDims := make([][]int, len(inputs))
	for ii, t := range inputs {
		allDims[ii] = t.Shape().Dimensions
	}
	dims, err := shapes.BroadcastDims(allDims...)
	if err != nil {
		return nil, err
	}
	strides := make([][]int, len(inputs))
	for ii := range inputs {
		strides[ii], err = shapes.BroadcastStrides(allDims[ii], dims)
		if err != nil {
			return nil, err
		}
	}
	out := tensors.FromShape(shapes.Make(dtype, dims...))
	switch dtype {
	case dtypes.Float32:
		mapNFlat(flatOf[float32](out), flatsOf[float32](inputs), strides, dims, fn)
	case dtypes.Float64:
		mapNFlat(flatOf[float64](out), flatsOf[float64](inputs), strides, dims, fn)
	}
	return out, nil
}

func flatsOf[T tensors.Float](inputs []*tensors.Tensor) [][]T {
	flats := make([][]T, len(inputs))
	for ii, t := range inputs {
		flats[ii] = flatOf[T](t)
	}
	return flats
}

func mapNFlat[T constraints.Float](out []T, ins [][]T, strides [][]int, dims []int, fn func(args []float64) float64) {
	args := make([]float64, len(ins))
	sameShape := true
	for _, in := range ins {
		sameShape = sameShape && len(in) == len(out)
	}
	if sameShape {
		for ii := range out {
			for jj, in := range ins {
				args[jj] = float64(in[ii])
			}
			out[ii] = T(fn(args))
		}
		return
	}
	walk(dims, strides, func(flatIdx int, offsets []int) {
		for jj, in := range ins {
			args[jj] = float64(in[offsets[jj]])
		}
		out[flatIdx] = T(fn(args))
	})
}

// Map applies fn to every element of x, returning a new tensor of the same shape.
func Map(x *tensors.Tensor, fn func(v float64) float64) *tensors.Tensor {
	out := tensors.FromShape(x.Shape())
	switch x.DType() {
	case dtypes.Float32:
		mapFlat(flatOf[float32](out), flatOf[float32](x), fn)
	case dtypes.Float64:
		mapFlat(flatOf[float64](out), flatOf[float64](x), fn)
	}
	return out
}

func mapFlat[T constraints.Float](out, in []T, fn func(v float64) float64) {
	for ii, v := range in {
		out[ii] = T(fn(float64(v)))
	}
}

// Map2 applies fn elementwise over a and b broadcast together.
func Map2(a, b *tensors.Tensor, fn func(x, y float64) float64) (*tensors.Tensor, error) {
	return MapN(func(args []float64) float64 { return fn(args[0], args[1]) }, a, b)
}

// Map3 applies fn elementwise over a, b and c broadcast together.
func Map3(a, b, c *tensors.Tensor, fn func(x, y, z float64) float64) (*tensors.Tensor, error) {
	return MapN(func(args []float64) float64 { return fn(args[0], args[1], args[2]) }, a, b, c)
}

// Add returns a+b, broadcasting.
func Add(a, b *tensors.Tensor) (*tensors.Tensor, error) {
	return Map2(a, b, func(x, y float64) float64 { return x + y })
}

// Sub returns a-b, broadcasting.
func Sub(a, b *tensors.Tensor) (*tensors.Tensor, error) {
	return Map2(a, b, func(x, y float64) float64 { return x - y })
}

// Mul returns the elementwise product a*b, broadcasting.
func Mul(a, b *tensors.Tensor) (*tensors.Tensor, error) {
	return Map2(a, b, func(x, y float64) float64 { return x * y })
}

// Div returns the elementwise a/b, broadcasting.
func Div(a, b *tensors.Tensor) (*tensors.Tensor, error) {
	return Map2(a, b, func(x, y float64) float64 { return x / y })
}

// Neg returns -x.
func Neg(x *tensors.Tensor) *tensors.Tensor {
	return Map(x, func(v float64) float64 { return -v })
}

// Scale returns x*s.
func Scale(x *tensors.Tensor, s float64) *tensors.Tensor {
	return Map(x, func(v float64) float64 { return v * s })
}

// AddScalar returns x+s.
func AddScalar(x *tensors.Tensor, s float64) *tensors.Tensor {
	return Map(x, func(v float64) float64 { return v + s })
}

// AddInPlace accumulates src into dst (dst += src). src must be broadcastable to dst's shape.
func AddInPlace(dst, src *tensors.Tensor) error {
	return ApplyInPlace(dst, src, func(d, s float64) float64 { return d + s })
}

// ApplyInPlace sets dst = fn(dst, src) elementwise, where src is broadcast to dst's shape.
func ApplyInPlace(dst, src *tensors.Tensor, fn func(d, s float64) float64) error {
	if _, err := commonDType("ApplyInPlace", dst, src); err != nil {
		return err
	}
	dims := dst.Shape().Dimensions
	srcStrides, err := shapes.BroadcastStrides(src.Shape().Dimensions, dims)
	if err != nil {
		return errors.WithMessagef(err, "ApplyInPlace(%s, %s)", dst.Shape(), src.Shape())
	}
	switch dst.DType() {
	case dtypes.Float32:
		applyInPlaceFlat(flatOf[float32](dst), flatOf[float32](src), srcStrides, dims, fn)
	case dtypes.Float64:
		applyInPlaceFlat(flatOf[float64](dst), flatOf[float64](src), srcStrides, dims, fn)
	}
	return nil
}

func applyInPlaceFlat[T constraints.Float](dst, src []T, srcStrides []int, dims []int, fn func(d, s float64) float64) {
	if len(src) == len(dst) {
		for ii := range dst {
			dst[ii] = T(fn(float64(dst[ii]), float64(src[ii])))
		}
		return
	}
	walk(dims, [][]int{srcStrides}, func(flatIdx int, offsets []int) {
		dst[flatIdx] = T(fn(float64(dst[flatIdx]), float64(src[offsets[0]])))
	})
}

// BroadcastTo returns x broadcast to the given dimensions.
func BroadcastTo(x *tensors.Tensor, dims []int) (*tensors.Tensor, error) {
	out := tensors.FromShape(shapes.Make(x.DType(), dims...))
	if err := ApplyInPlace(out, x, func(_, s float64) float64 { return s }); err != nil {
		return nil, err
	}
	return out, nil
}
