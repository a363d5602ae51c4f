// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"math"
	"slices"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ReduceDims normalizes the axes to reduce (negative axes count from the end, no axes means all of them) and
// returns them sorted, together with the dimensions of the result, which drop the reduced axes.
func ReduceDims(dims []int, axes []int) (reducedAxes []int, outDims []int, err error) {
	rank := len(dims)
	if len(axes) == 0 {
		reducedAxes = make([]int, rank)
		for ii := range reducedAxes {
			reducedAxes[ii] = ii
		}
		return reducedAxes, []int{}, nil
	}
	isReduced := make([]bool, rank)
	for _, axis := range axes {
		adjusted := axis
		if adjusted < 0 {
			adjusted += rank
		}
		if adjusted < 0 || adjusted >= rank {
			return nil, nil, errors.Errorf("reduce axis %d out-of-range for dimensions %v", axis, dims)
		}
		if isReduced[adjusted] {
			return nil, nil, errors.Errorf("reduce axis %d given more than once for dimensions %v", axis, dims)
		}
		isReduced[adjusted] = true
	}
	outDims = make([]int, 0, rank)
	for axis, dim := range dims {
		if isReduced[axis] {
			reducedAxes = append(reducedAxes, axis)
		} else {
			outDims = append(outDims, dim)
		}
	}
	return reducedAxes, outDims, nil
}

// KeepDims returns dims with the reduced axes set to 1.
func KeepDims(dims []int, reducedAxes []int) []int {
	keep := slices.Clone(dims)
	for _, axis := range reducedAxes {
		keep[axis] = 1
	}
	return keep
}

// ReduceSum sums x over the given axes, which are removed from the result.
// With no axes given it sums all elements, returning a scalar.
func ReduceSum(x *tensors.Tensor, axes ...int) (*tensors.Tensor, error) {
	dims := x.Shape().Dimensions
	reducedAxes, outDims, err := ReduceDims(dims, axes)
	if err != nil {
		return nil, err
	}
	out := tensors.FromShape(shapes.Make(x.DType(), outDims...))
	outStrides, err := shapes.BroadcastStrides(KeepDims(dims, reducedAxes), dims)
	if err != nil {
		return nil, err
	}
	scatterAdd(out, x, outStrides)
	return out, nil
}

// SumToShape folds x into the given dimensions by summing over the axes that were broadcast: the inverse of
// broadcasting, as needed for gradients of broadcast operands. dims must be broadcastable to x's dimensions.
func SumToShape(x *tensors.Tensor, dims []int) (*tensors.Tensor, error) {
	xDims := x.Shape().Dimensions
	if slices.Equal(xDims, dims) {
		return x, nil
	}
	outStrides, err := shapes.BroadcastStrides(dims, xDims)
	if err != nil {
		return nil, errors.WithMessagef(err, "SumToShape(%s, %v)", x.Shape(), dims)
	}
	out := tensors.FromShape(shapes.Make(x.DType(), dims...))
	scatterAdd(out, x, outStrides)
	return out, nil
}

// scatterAdd adds each element of x into out, at the offset given by the outStrides (in x's index space).
func scatterAdd(out, x *tensors.Tensor, outStrides []int) {
	dims := x.Shape().Dimensions
	switch x.DType() {
	case dtypes.Float32:
		scatterAddFlat(flatOf[float32](out), flatOf[float32](x), outStrides, dims)
	case dtypes.Float64:
		scatterAddFlat(flatOf[float64](out), flatOf[float64](x), outStrides, dims)
	}
}

func scatterAddFlat[T constraints.Float](out, in []T, outStrides []int, dims []int) {
	walk(dims, [][]int{outStrides}, func(flatIdx int, offsets []int) {
		out[offsets[0]] += in[flatIdx]
	})
}

// Softmax computes the softmax of x over its last axis. The maximum of each row is subtracted before
// exponentiation, so large values don't overflow.
func Softmax(x *tensors.Tensor) *tensors.Tensor {
	out := tensors.FromShape(x.Shape())
	if x.Rank() == 0 {
		out.Fill(1)
		return out
	}
	n := x.Shape().Dim(-1)
	switch x.DType() {
	case dtypes.Float32:
		softmaxFlat(flatOf[float32](out), flatOf[float32](x), n)
	case dtypes.Float64:
		softmaxFlat(flatOf[float64](out), flatOf[float64](x), n)
	}
	return out
}

func softmaxFlat[T constraints.Float](out, in []T, n int) {
	for start := 0; start < len(in); start += n {
		row, outRow := in[start:start+n], out[start:start+n]
		maxV := math.Inf(-1)
		for _, v := range row {
			maxV = max(maxV, float64(v))
		}
		var sum float64
		for ii, v := range row {
			e := math.Exp(float64(v) - maxV)
			outRow[ii] = T(e)
			sum += e
		}
		for ii := range outRow {
			outRow[ii] = T(float64(outRow[ii]) / sum)
		}
	}
}

// SoftmaxBackward returns the vector-Jacobian product of the softmax over the last axis: given the softmax
// output y and the incoming gradient v, it returns y * (v - sum(v*y, lastAxis)).
func SoftmaxBackward(y, v *tensors.Tensor) (*tensors.Tensor, error) {
	if _, err := commonDType("SoftmaxBackward", y, v); err != nil {
		return nil, err
	}
	if !y.Shape().Equal(v.Shape()) {
		return nil, errors.Errorf("SoftmaxBackward: output shape %s and gradient shape %s differ", y.Shape(), v.Shape())
	}
	out := tensors.FromShape(y.Shape())
	if y.Rank() == 0 {
		return out, nil
	}
	n := y.Shape().Dim(-1)
	switch y.DType() {
	case dtypes.Float32:
		softmaxBackwardFlat(flatOf[float32](out), flatOf[float32](y), flatOf[float32](v), n)
	case dtypes.Float64:
		softmaxBackwardFlat(flatOf[float64](out), flatOf[float64](y), flatOf[float64](v), n)
	}
	return out, nil
}

func softmaxBackwardFlat[T constraints.Float](out, y, v []T, n int) {
	for start := 0; start < len(y); start += n {
		var dot float64
		for ii := start; ii < start+n; ii++ {
			dot += float64(v[ii]) * float64(y[ii])
		}
		for ii := start; ii < start+n; ii++ {
			out[ii] = T(float64(y[ii]) * (float64(v[ii]) - dot))
		}
	}
}
