// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"slices"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// MatMulDims returns the output dimensions of a matrix multiplication of lhs by rhs, and an error if they are
// not compatible. Supported combinations:
//
//   - [m, k] x [k, n] -> [m, n]
//   - [batch, m, k] x [k, n] -> [batch, m, n]: the same rhs used for every element of the batch.
//   - [batch, m, k] x [batch, k, n] -> [batch, m, n]
//
// Wildcard dimensions (shapes.UnknownDim) are accepted and propagated.
func MatMulDims(lhs, rhs []int) ([]int, error) {
	compatible := func(a, b int) bool { return a == b || a == shapes.UnknownDim || b == shapes.UnknownDim }
	pick := func(a, b int) int {
		if a == shapes.UnknownDim {
			return b
		}
		return a
	}
	switch {
	case len(lhs) == 2 && len(rhs) == 2:
		if !compatible(lhs[1], rhs[0]) {
			return nil, errors.Errorf("MatMul %v x %v: inner dimensions %d and %d don't match", lhs, rhs, lhs[1], rhs[0])
		}
		return []int{lhs[0], rhs[1]}, nil
	case len(lhs) == 3 && len(rhs) == 2:
		if !compatible(lhs[2], rhs[0]) {
			return nil, errors.Errorf("MatMul %v x %v: inner dimensions %d and %d don't match", lhs, rhs, lhs[2], rhs[0])
		}
		return []int{lhs[0], lhs[1], rhs[1]}, nil
	case len(lhs) == 3 && len(rhs) == 3:
		if !compatible(lhs[0], rhs[0]) {
			return nil, errors.Errorf("MatMul %v x %v: batch dimensions %d and %d don't match", lhs, rhs, lhs[0], rhs[0])
		}
		if !compatible(lhs[2], rhs[1]) {
			return nil, errors.Errorf("MatMul %v x %v: inner dimensions %d and %d don't match", lhs, rhs, lhs[2], rhs[1])
		}
		return []int{pick(lhs[0], rhs[0]), lhs[1], rhs[2]}, nil
	}
	return nil, errors.Errorf("MatMul %v x %v: unsupported ranks %d and %d", lhs, rhs, len(lhs), len(rhs))
}

// MatMul returns the matrix multiplication of lhs by rhs, see MatMulDims for the supported shapes.
func MatMul(lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	dtype, err := commonDType("MatMul", lhs, rhs)
	if err != nil {
		return nil, err
	}
	lDims, rDims := lhs.Shape().Dimensions, rhs.Shape().Dimensions
	outDims, err := MatMulDims(lDims, rDims)
	if err != nil {
		return nil, err
	}
	batch, m, k, n := 1, lDims[len(lDims)-2], lDims[len(lDims)-1], rDims[len(rDims)-1]
	lhsBatchStride, rhsBatchStride := 0, 0
	if len(lDims) == 3 {
		batch = lDims[0]
		lhsBatchStride = m * k
		if len(rDims) == 3 {
			rhsBatchStride = k * n
		}
	}
	out := tensors.FromShape(shapes.Make(dtype, outDims...))
	switch dtype {
	case dtypes.Float32:
		matMulFlat(flatOf[float32](out), flatOf[float32](lhs), flatOf[float32](rhs),
			batch, m, k, n, lhsBatchStride, rhsBatchStride)
	case dtypes.Float64:
		matMulFlat(flatOf[float64](out), flatOf[float64](lhs), flatOf[float64](rhs),
			batch, m, k, n, lhsBatchStride, rhsBatchStride)
	}
	return out, nil
}

func matMulFlat[T constraints.Float](out, lhs, rhs []T, batch, m, k, n, lhsBatchStride, rhsBatchStride int) {
	for b := range batch {
		l := lhs[b*lhsBatchStride:]
		r := rhs[b*rhsBatchStride:]
		o := out[b*m*n : (b+1)*m*n]
		for i := range m {
			row := o[i*n : (i+1)*n]
			for p := range k {
				lv := l[i*k+p]
				if lv == 0 {
					continue
				}
				rRow := r[p*n : (p+1)*n]
				for j, rv := range rRow {
					row[j] += lv * rv
				}
			}
		}
	}
}

// TransposeDims returns the dimensions of x transposed by the permutation. An empty permutation reverses the axes.
func TransposeDims(dims []int, permutation []int) ([]int, []int, error) {
	rank := len(dims)
	if len(permutation) == 0 {
		permutation = make([]int, rank)
		for ii := range permutation {
			permutation[ii] = rank - 1 - ii
		}
	}
	if len(permutation) != rank {
		return nil, nil, errors.Errorf("Transpose of dimensions %v: permutation %v has the wrong length", dims, permutation)
	}
	seen := make([]bool, rank)
	outDims := make([]int, rank)
	for ii, axis := range permutation {
		if axis < 0 || axis >= rank || seen[axis] {
			return nil, nil, errors.Errorf("Transpose of dimensions %v: invalid permutation %v", dims, permutation)
		}
		seen[axis] = true
		outDims[ii] = dims[axis]
	}
	return outDims, permutation, nil
}

// InversePermutation returns the permutation that undoes the given one.
func InversePermutation(permutation []int) []int {
	inverse := make([]int, len(permutation))
	for ii, axis := range permutation {
		inverse[axis] = ii
	}
	return inverse
}

// Transpose permutes the axes of x: output axis i is input axis permutation[i].
// With no permutation given, it reverses the order of the axes (the usual matrix transpose for rank 2).
func Transpose(x *tensors.Tensor, permutation ...int) (*tensors.Tensor, error) {
	dims := x.Shape().Dimensions
	outDims, permutation, err := TransposeDims(dims, permutation)
	if err != nil {
		return nil, err
	}
	inStrides := shapes.StridesOf(dims)
	permutedStrides := make([]int, len(dims))
	for ii, axis := range permutation {
		permutedStrides[ii] = inStrides[axis]
	}
	out := tensors.FromShape(shapes.Make(x.DType(), outDims...))
	if slices.Equal(outDims, dims) && slices.IsSorted(permutation) {
		_ = out.CopyFrom(x)
		return out, nil
	}
	switch x.DType() {
	case dtypes.Float32:
		gatherFlat(flatOf[float32](out), flatOf[float32](x), permutedStrides, outDims)
	case dtypes.Float64:
		gatherFlat(flatOf[float64](out), flatOf[float64](x), permutedStrides, outDims)
	}
	return out, nil
}

func gatherFlat[T constraints.Float](out, in []T, inStrides []int, outDims []int) {
	walk(outDims, [][]int{inStrides}, func(flatIdx int, offsets []int) {
		out[flatIdx] = in[offsets[0]]
	})
}
