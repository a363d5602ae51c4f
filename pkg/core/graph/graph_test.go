// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	. "github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/graph/graphtest"
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGraph(t *testing.T) {
	g := NewGraph("TestBuildGraph")
	a := Const(g, [][]float32{{1, 2}, {3, 4}})
	b := Const(g, []float32{10, 20})
	c := Add(a, b)
	assert.True(t, c.Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))
	assert.Equal(t, NodeTypeAdd, c.Type())
	assert.Equal(t, 3, g.NumNodes())
	assert.Less(t, a.Id(), c.Id())
	assert.Less(t, b.Id(), c.Id())
	assert.Same(t, c, g.NodeById(c.Id()))
	assert.True(t, a.IsLeaf())
	assert.False(t, c.IsLeaf())

	m := MatMul(a, Const(g, [][]float32{{1}, {1}}))
	assert.Equal(t, []int{2, 1}, m.Shape().Dimensions)
	s := ReduceSum(a, 0)
	assert.Equal(t, []int{2}, s.Shape().Dimensions)
	assert.True(t, ReduceAllMean(a).IsScalar())
	assert.Equal(t, []int{2, 2}, Transpose(a).Shape().Dimensions)
	assert.Equal(t, []int{4}, Reshape(a, -1).Shape().Dimensions)
	assert.Equal(t, []int{1, 2, 2}, ExpandDims(a, 0).Shape().Dimensions)
}

// catchError returns the error a graph building function panicked with.
func catchError(fn func()) error {
	return exceptions.TryCatch[error](fn)
}

func TestShapeMismatchAtBuild(t *testing.T) {
	g := NewGraph("TestShapeMismatchAtBuild")
	a := Const(g, [][]float32{{1, 2, 3}, {4, 5, 6}})
	b := Const(g, []float32{1, 2, 3, 4})

	err := catchError(func() { Add(a, b) })
	require.Error(t, err)
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "Add", mismatch.Op)
	assert.Len(t, mismatch.Shapes, 2)

	err = catchError(func() { MatMul(a, a) })
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "MatMul", mismatch.Op)

	err = catchError(func() { Mul(a, Const(g, []float64{1, 2, 3})) })
	require.True(t, errors.As(err, &mismatch), "dtypes must match")

	err = catchError(func() { Reshape(a, 4) })
	require.True(t, errors.As(err, &mismatch))

	// Broadcasting of compatible shapes is accepted.
	require.NoError(t, catchError(func() { Mul(a, Const(g, []float32{1, 2, 3})) }))
	require.NoError(t, catchError(func() { Mul(a, Const(g, float32(2))) }))
}

func TestDifferentGraphs(t *testing.T) {
	g1 := NewGraph("g1")
	g2 := NewGraph("g2")
	err := catchError(func() { Add(Const(g1, float32(1)), Const(g2, float32(1))) })
	require.Error(t, err)
}

func TestWildcardShapes(t *testing.T) {
	g := NewGraph("TestWildcardShapes")
	x := Input(g, 3)
	assert.Equal(t, []int{shapes.UnknownDim, 3}, x.Shape().Dimensions)
	w := NewVariable(g, "w", tensors.Ones(dtypes.Float32, 3, 2))
	y := MatMul(x, w)
	assert.Equal(t, []int{shapes.UnknownDim, 2}, y.Shape().Dimensions)
	assert.True(t, ReduceAllSum(y).IsScalar())
	assert.Equal(t, []int{shapes.UnknownDim, 2}, Reshape(y, -1, 2).Shape().Dimensions)

	// Concrete axes are still checked.
	err := catchError(func() { MatMul(x, NewVariable(g, "w2", tensors.Ones(dtypes.Float32, 4, 2))) })
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
}

func TestReachableVariables(t *testing.T) {
	g := NewGraph("TestReachableVariables")
	a := NewVariable(g, "a", tensors.Ones(dtypes.Float64, 2))
	b := NewVariable(g, "b", tensors.Ones(dtypes.Float64, 2), WithTrainable(false))
	c := NewVariable(g, "c", tensors.Ones(dtypes.Float64, 2))
	y := Mul(a, b)
	require.Len(t, g.Variables(), 3)
	assert.Equal(t, []*Variable{a.Variable(), b.Variable()}, g.ReachableVariables(y))
	assert.Equal(t, []*Variable{a.Variable()}, g.TrainableVariables(y))
	assert.Equal(t, []*Variable{c.Variable()}, g.ReachableVariables(c))
	assert.Nil(t, y.Variable())
}

func TestVariableOptions(t *testing.T) {
	g := NewGraph("TestVariableOptions")
	v := NewVariable(g, "v", tensors.Zeros(dtypes.Float32, 3), WithL1(0.1), WithL2(0.2)).Variable()
	assert.Equal(t, "v", v.Name())
	assert.Equal(t, 0.1, v.L1())
	assert.Equal(t, 0.2, v.L2())
	assert.True(t, v.Trainable())
	v.SetTrainable(false)
	assert.False(t, v.Trainable())

	require.Error(t, catchError(func() { NewVariable(g, "bad", tensors.Zeros(dtypes.Float32, 3), WithL2(-1)) }))

	err := v.SetValue(tensors.Zeros(dtypes.Float32, 4))
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	version := g.Version()
	require.NoError(t, v.SetValue(tensors.Ones(dtypes.Float32, 3)))
	assert.Greater(t, g.Version(), version)
}

func TestForwardOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "elementwise", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, []float64{-1, 0, 2})
		inputs = []*Node{x}
		outputs = []*Node{
			Neg(x), Abs(x), Sign(x), Relu(x), LeakyRelu(x, 0.1), Square(x), OneMinus(x),
			Max(x, Scalar(g, dtypes.Float64, 0.5)), Min(x, Scalar(g, dtypes.Float64, 0.5)),
		}
		return
	}, []any{
		[]float64{1, 0, -2},
		[]float64{1, 0, 2},
		[]float64{-1, 0, 1},
		[]float64{0, 0, 2},
		[]float64{-0.1, 0, 2},
		[]float64{1, 0, 4},
		[]float64{2, 1, -1},
		[]float64{0.5, 0.5, 2},
		[]float64{-1, 0, 0.5},
	}, 1e-9)

	graphtest.RunTestGraphFn(t, "matmul and reductions", func(g *Graph) (inputs, outputs []*Node) {
		a := Const(g, [][]float32{{1, 2}, {3, 4}})
		b := Const(g, [][]float32{{5, 6}, {7, 8}})
		inputs = []*Node{a, b}
		outputs = []*Node{MatMul(a, b), Transpose(a), ReduceSum(a, 1), ReduceAllMean(a), Softmax(Const(g, []float32{0, 0}))}
		return
	}, []any{
		[][]float32{{19, 22}, {43, 50}},
		[][]float32{{1, 3}, {2, 4}},
		[]float32{3, 7},
		float32(2.5),
		[]float32{0.5, 0.5},
	}, 1e-5)
}
