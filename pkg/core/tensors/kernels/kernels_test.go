// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"math"
	"testing"

	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryBroadcast(t *testing.T) {
	a := tensors.FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	b := tensors.FromValue([]float32{10, 20, 30})
	got := must.M1(Add(a, b))
	assert.Equal(t, [][]float32{{11, 22, 33}, {14, 25, 36}}, got.Value())

	col := tensors.FromValue([][]float32{{1}, {2}})
	got = must.M1(Mul(a, col))
	assert.Equal(t, [][]float32{{1, 2, 3}, {8, 10, 12}}, got.Value())

	got = must.M1(Sub(tensors.FromScalar(float32(1)), a))
	assert.Equal(t, [][]float32{{0, -1, -2}, {-3, -4, -5}}, got.Value())

	got = must.M1(Div(a, tensors.FromScalar(float32(2))))
	assert.Equal(t, [][]float32{{0.5, 1, 1.5}, {2, 2.5, 3}}, got.Value())

	// Outer broadcast of [2,1] and [1,3].
	row := tensors.FromValue([][]float64{{1, 2, 3}})
	colF64 := tensors.FromValue([][]float64{{10}, {20}})
	got = must.M1(Add(colF64, row))
	assert.Equal(t, [][]float64{{11, 12, 13}, {21, 22, 23}}, got.Value())

	_, err := Add(a, tensors.FromValue([]float32{1, 2}))
	require.Error(t, err)
	_, err = Add(a, tensors.FromValue([]float64{1, 2, 3}))
	require.Error(t, err)
}

func TestMap(t *testing.T) {
	x := tensors.FromValue([]float64{-1, 0, 2})
	assert.Equal(t, []float64{1, 0, 2}, Map(x, math.Abs).Value())
	assert.Equal(t, []float64{1, 0, -2}, Neg(x).Value())
	assert.Equal(t, []float64{-3, 0, 6}, Scale(x, 3).Value())
	assert.Equal(t, []float64{0, 1, 3}, AddScalar(x, 1).Value())

	y := must.M1(Map3(x, tensors.FromScalar(2.0), tensors.FromValue([]float64{1, 1, 1}),
		func(a, b, c float64) float64 { return a*b + c }))
	assert.Equal(t, []float64{-1, 1, 5}, y.Value())
}

func TestInPlace(t *testing.T) {
	dst := tensors.FromValue([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, AddInPlace(dst, tensors.FromValue([]float64{10, 20})))
	assert.Equal(t, [][]float64{{11, 22}, {13, 24}}, dst.Value())
	require.Error(t, AddInPlace(dst, tensors.FromValue([]float64{1, 2, 3})))

	b := must.M1(BroadcastTo(tensors.FromValue([]float32{1, 2}), []int{3, 2}))
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}, {1, 2}}, b.Value())
}

func TestMatMul(t *testing.T) {
	a := tensors.FromValue([][]float64{{1, 2}, {3, 4}})
	b := tensors.FromValue([][]float64{{5, 6}, {7, 8}})
	assert.Equal(t, [][]float64{{19, 22}, {43, 50}}, must.M1(MatMul(a, b)).Value())

	// [2,3] x [3,1]
	c := tensors.FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	d := tensors.FromValue([][]float32{{1}, {0}, {-1}})
	assert.Equal(t, [][]float32{{-2}, {-2}}, must.M1(MatMul(c, d)).Value())

	// Batched lhs with shared rhs.
	batch := tensors.FromValue([][][]float64{{{1, 2}, {3, 4}}, {{1, 0}, {0, 1}}})
	assert.Equal(t, [][][]float64{{{19, 22}, {43, 50}}, {{5, 6}, {7, 8}}}, must.M1(MatMul(batch, b)).Value())

	// Batched both.
	rhsBatch := tensors.FromValue([][][]float64{{{1, 0}, {0, 1}}, {{2, 0}, {0, 2}}})
	assert.Equal(t, [][][]float64{{{1, 2}, {3, 4}}, {{2, 0}, {0, 2}}}, must.M1(MatMul(batch, rhsBatch)).Value())

	_, err := MatMul(c, c)
	require.Error(t, err)
	_, err = MatMul(tensors.FromValue([]float64{1, 2}), a)
	require.Error(t, err)
	_, err = MatMulDims([]int{2, 3}, []int{4, 5})
	require.Error(t, err)
	dims, err := MatMulDims([]int{-1, 3}, []int{3, 5})
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 5}, dims)
}

func TestTranspose(t *testing.T) {
	a := tensors.FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, [][]float32{{1, 4}, {2, 5}, {3, 6}}, must.M1(Transpose(a)).Value())

	x := tensors.FromFlatDataAndDimensions([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 2, 3, 2)
	y := must.M1(Transpose(x, 0, 2, 1))
	require.NoError(t, y.Shape().CheckDims(2, 2, 3))
	assert.Equal(t, [][][]float64{{{0, 2, 4}, {1, 3, 5}}, {{6, 8, 10}, {7, 9, 11}}}, y.Value())
	back := must.M1(Transpose(y, InversePermutation([]int{0, 2, 1})...))
	assert.True(t, back.Equal(x))

	_, err := Transpose(x, 0, 0, 1)
	require.Error(t, err)
	_, err = Transpose(x, 0, 1)
	require.Error(t, err)
}

func TestReduceSum(t *testing.T) {
	x := tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, 21.0, must.M1(ReduceSum(x)).Value())
	assert.Equal(t, []float64{5, 7, 9}, must.M1(ReduceSum(x, 0)).Value())
	assert.Equal(t, []float64{6, 15}, must.M1(ReduceSum(x, -1)).Value())
	_, err := ReduceSum(x, 2)
	require.Error(t, err)
	_, err = ReduceSum(x, 0, 0)
	require.Error(t, err)
}

func TestSumToShape(t *testing.T) {
	x := tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, []float64{5, 7, 9}, must.M1(SumToShape(x, []int{3})).Value())
	assert.Equal(t, [][]float64{{6}, {15}}, must.M1(SumToShape(x, []int{2, 1})).Value())
	assert.Equal(t, 21.0, must.M1(SumToShape(x, []int{})).Value())
	assert.Same(t, x, must.M1(SumToShape(x, []int{2, 3})))
	_, err := SumToShape(x, []int{2})
	require.Error(t, err)
}

func TestSoftmax(t *testing.T) {
	x := tensors.FromValue([][]float64{{0, 0}, {1000, 1000 + math.Log(3)}})
	y := Softmax(x)
	assert.True(t, y.InDelta(tensors.FromValue([][]float64{{0.5, 0.5}, {0.25, 0.75}}), 1e-9), "got %s", y)

	// Gradient of sum(softmax) is zero.
	grad := must.M1(SoftmaxBackward(y, tensors.OnesLike(y)))
	assert.True(t, grad.InDelta(tensors.ZerosLike(y), 1e-12))

	// Selecting the first output: dy0/dx = y0*(1-y0), -y0*y1.
	v := tensors.FromValue([][]float64{{1, 0}, {1, 0}})
	grad = must.M1(SoftmaxBackward(y, v))
	want := tensors.FromValue([][]float64{{0.25, -0.25}, {0.1875, -0.1875}})
	assert.True(t, grad.InDelta(want, 1e-9), "got %s", grad)
}
