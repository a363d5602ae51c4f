// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"math"
	"testing"

	. "github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingIdentity returns a custom op that passes x through, counting the number of forward and backward
// evaluations.
func countingIdentity(x *Node, numForward, numBackward *int) *Node {
	return CustomOp("CountingIdentity", []*Node{x}, x.Shape(),
		func(inputs []*tensors.Tensor) (*tensors.Tensor, error) {
			*numForward++
			return inputs[0], nil
		},
		func(v, _ *tensors.Tensor, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
			*numBackward++
			return []*tensors.Tensor{v}, nil
		})
}

func TestMemoization(t *testing.T) {
	g := NewGraph("TestMemoization")
	a := NewVariable(g, "a", tensors.FromValue([]float64{0.5, -1}))
	var numForward, numBackward int
	shared := countingIdentity(a, &numForward, &numBackward)
	// Diamond: shared has three consumers.
	y := Add(Tanh(shared), Mul(Sigmoid(shared), shared))
	session := NewSession(g)

	must.M1(session.Run(y))
	assert.Equal(t, 1, numForward)
	assert.Equal(t, g.NumNodes(), session.Stats().LastEvaluated)

	// A new run is a new generation.
	must.M1(session.Run(y))
	assert.Equal(t, 2, numForward)
	assert.Equal(t, uint64(2), session.Generation())

	// RunMany shares the evaluation of common dependencies.
	must.M1(session.RunMany(y, Tanh(shared)))
	assert.Equal(t, 3, numForward)

	// Backward reuses the values of the current generation, and propagates through the shared node once.
	require.NoError(t, session.Backward(y, nil))
	assert.Equal(t, 3, numForward)
	assert.Equal(t, 1, numBackward)
	assert.Equal(t, 1, session.Stats().Backwards)
}

func TestGradientSummation(t *testing.T) {
	g := NewGraph("TestGradientSummation")
	values := []float64{0.3, -0.7, 2}
	a := NewVariable(g, "a", tensors.FromValue(values))
	y := Add(Tanh(a), Sigmoid(a))
	session := NewSession(g)
	got := must.M1(session.Run(y)).Value().([]float64)
	require.NoError(t, session.Backward(y, nil))
	grad := a.Variable().Gradient().Value().([]float64)
	for ii, x := range values {
		s := 1 / (1 + math.Exp(-x))
		assert.InDelta(t, math.Tanh(x)+s, got[ii], 1e-12)
		tanh := math.Tanh(x)
		assert.InDelta(t, (1-tanh*tanh)+s*(1-s), grad[ii], 1e-12)
	}
}

func TestBind(t *testing.T) {
	g := NewGraph("TestBind")
	x := Placeholder(g, "x", shapes.Make(dtypes.Float64, shapes.UnknownDim, 2))
	w := Const(g, [][]float64{{1, 2}, {3, 4}})
	y := Add(MatMul(x, w), Scalar(g, dtypes.Float64, 1))
	session := NewSession(g)

	_, err := session.Run(y)
	var unbound *UnboundInputError
	require.True(t, errors.As(err, &unbound), "got error %v", err)
	assert.Equal(t, "x", unbound.Name)

	err = session.Bind(x, tensors.FromValue([]float64{1, 2}))
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "Bind", mismatch.Op)
	err = session.Bind(x, tensors.FromValue([][]float32{{1, 2}}))
	require.True(t, errors.As(err, &mismatch), "dtype must match")
	require.Error(t, session.Bind(w, tensors.FromValue([][]float64{{1, 2}})), "only placeholders can be bound")

	// Round-trip: same value as the expression evaluated with the constant in place of the placeholder.
	input := tensors.FromValue([][]float64{{1, 0}, {0, 1}, {2, -1}})
	require.NoError(t, session.Bind(x, input))
	assert.Same(t, input, session.Binding(x))
	got := must.M1(session.Run(y))
	assert.Equal(t, []int{3, 2}, got.Shape().Dimensions)
	byHand := Add(MatMul(Const(g, input), w), Scalar(g, dtypes.Float64, 1))
	assert.True(t, got.Equal(must.M1(session.Run(byHand))))
	assert.Equal(t, [][]float64{{2, 3}, {4, 5}, {0, 1}}, got.Value())

	// Wildcard axis accepts any batch size.
	require.NoError(t, session.Bind(x, tensors.Ones(dtypes.Float64, 1, 2)))
	got = must.M1(session.Run(y))
	assert.Equal(t, [][]float64{{5, 7}}, got.Value())
}

func TestCacheInvalidation(t *testing.T) {
	g := NewGraph("TestCacheInvalidation")
	x := Placeholder(g, "x", shapes.Make(dtypes.Float64, 2))
	w := NewVariable(g, "w", tensors.FromValue([]float64{1, 1}))
	var numForward, numBackward int
	y := ReduceAllSum(Mul(countingIdentity(w, &numForward, &numBackward), x))
	session := NewSession(g)
	require.NoError(t, session.Bind(x, tensors.FromValue([]float64{2, 3})))
	assert.Equal(t, 5.0, must.M1(session.Run(y)).Value())
	_, found := session.Value(y)
	assert.True(t, found)

	// New binding: cache invalid, backward runs the forward pass again.
	require.NoError(t, session.Bind(x, tensors.FromValue([]float64{4, 5})))
	_, found = session.Value(y)
	assert.False(t, found)
	require.NoError(t, session.Backward(y, nil))
	assert.Equal(t, 2, numForward)
	assert.Equal(t, []float64{4, 5}, w.Variable().Gradient().Value())
	value, found := session.Value(y)
	require.True(t, found)
	assert.Equal(t, 9.0, value.Value())

	// Variable change: also invalidates.
	require.NoError(t, w.Variable().SetValue(tensors.FromValue([]float64{2, 2})))
	_, found = session.Value(y)
	assert.False(t, found)
	require.NoError(t, session.Backward(y, nil))
	assert.Equal(t, 3, numForward)
	value, _ = session.Value(y)
	assert.Equal(t, 18.0, value.Value())

	w.Variable().Update(func(value *tensors.Tensor) { value.Fill(0) })
	assert.Equal(t, 0.0, must.M1(session.Run(y)).Value())
}

func TestVariableValueSnapshot(t *testing.T) {
	g := NewGraph("TestVariableValueSnapshot")
	w := NewVariable(g, "w", tensors.FromValue([]float64{1, 2}))
	session := NewSession(g)
	before := must.M1(session.Run(w))
	previous := w.Variable().Value()

	w.Variable().Update(func(value *tensors.Tensor) {
		for ii := range value.Size() {
			value.SetFlatAt(ii, value.FlatAt(ii)-0.5)
		}
	})
	assert.Equal(t, []float64{1, 2}, before.Value())
	assert.Equal(t, []float64{1, 2}, previous.Value())
	assert.Equal(t, []float64{0.5, 1.5}, must.M1(session.Run(w)).Value())
	assert.Equal(t, []float64{0.5, 1.5}, w.Variable().Value().Value())
}

func TestRegularization(t *testing.T) {
	g := NewGraph("TestRegularization")
	initial := []float64{1, -2, 0}
	plain := NewVariable(g, "plain", tensors.FromValue(initial))
	regularized := NewVariable(g, "regularized", tensors.FromValue(initial), WithL1(0.5), WithL2(0.1))
	weights := Const(g, []float64{3, 3, 3})
	loss := Add(ReduceAllSum(Mul(plain, weights)), ReduceAllSum(Mul(regularized, weights)))
	session := NewSession(g)
	require.NoError(t, session.Backward(loss, nil))

	plainGrad := plain.Variable().Gradient().Float64s()
	regGrad := regularized.Variable().Gradient().Float64s()
	for ii, p := range initial {
		sign := 0.0
		if p > 0 {
			sign = 1
		} else if p < 0 {
			sign = -1
		}
		assert.InDelta(t, plainGrad[ii]+0.5*sign+0.1*p, regGrad[ii], 1e-12)
	}
	assert.InDeltaSlice(t, []float64{3.6, 2.3, 3}, regGrad, 1e-12)

	// Regularization is added once, even if the variable is used many times, and gradients don't accumulate
	// across backward passes.
	g2 := NewGraph("shared")
	w := NewVariable(g2, "w", tensors.FromScalar(3.0), WithL2(0.5))
	loss2 := Add(Mul(w, w), w)
	session2 := NewSession(g2)
	require.NoError(t, session2.Backward(loss2, nil))
	assert.InDelta(t, 2*3+1+0.5*3, w.Variable().Gradient().Value(), 1e-12)
	require.NoError(t, session2.Backward(loss2, nil))
	assert.InDelta(t, 2*3+1+0.5*3, w.Variable().Gradient().Value(), 1e-12)
}

func TestNonTrainable(t *testing.T) {
	g := NewGraph("TestNonTrainable")
	frozen := NewVariable(g, "frozen", tensors.FromValue([]float64{1, 2}), WithTrainable(false), WithL2(1))
	w := NewVariable(g, "w", tensors.FromValue([]float64{3, 4}))
	loss := ReduceAllSum(Mul(frozen, w))
	session := NewSession(g)
	require.NoError(t, session.Backward(loss, nil))
	assert.Equal(t, []float64{0, 0}, frozen.Variable().Gradient().Value())
	assert.Equal(t, []float64{1, 2}, w.Variable().Gradient().Value())
}

func TestStopGradient(t *testing.T) {
	g := NewGraph("TestStopGradient")
	w := NewVariable(g, "w", tensors.FromScalar(3.0))
	loss := Mul(w, StopGradient(w))
	session := NewSession(g)
	require.NoError(t, session.Backward(loss, nil))
	assert.Equal(t, 3.0, w.Variable().Gradient().Value())
}

func TestSeed(t *testing.T) {
	g := NewGraph("TestSeed")
	w := NewVariable(g, "w", tensors.FromValue([]float32{1, 2}))
	y := MulScalar(w, 3)
	session := NewSession(g)

	require.NoError(t, session.Backward(y, tensors.FromScalar(2.0)))
	assert.Equal(t, []float32{6, 6}, w.Variable().Gradient().Value())
	require.NoError(t, session.Backward(y, tensors.FromValue([]float64{1, -1})))
	assert.Equal(t, []float32{3, -3}, w.Variable().Gradient().Value())

	err := session.Backward(y, tensors.FromValue([]float32{1, 2, 3}))
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "Backward", mismatch.Op)
}

func TestReshapeBackward(t *testing.T) {
	g := NewGraph("TestReshapeBackward")
	w := NewVariable(g, "w", tensors.Zeros(dtypes.Float32, 2, 3))
	loss := ReduceAllSum(Reshape(w, 3, 2))
	session := NewSession(g)
	require.NoError(t, session.Backward(loss, nil))
	assert.Equal(t, [][]float32{{1, 1, 1}, {1, 1, 1}}, w.Variable().Gradient().Value())
}

func TestRandomNormal(t *testing.T) {
	build := func() (*Graph, *Node) {
		g := NewGraph("TestRandomNormal")
		g.SetRandomSeed(42)
		return g, RandomNormalLike(Const(g, make([]float64, 100)), 1, 0.5)
	}
	g, noise := build()
	session := NewSession(g)
	first := must.M1(session.Run(noise)).Clone()
	second := must.M1(session.Run(noise))
	assert.False(t, first.Equal(second), "a new sample is drawn at every run")
	var mean float64
	for _, v := range first.Float64s() {
		mean += v
	}
	mean /= 100
	assert.InDelta(t, 1.0, mean, 0.25)

	g2, noise2 := build()
	assert.True(t, first.Equal(must.M1(NewSession(g2).Run(noise2))), "same seed, same sample")
}

func TestNumericalInstabilityWarning(t *testing.T) {
	g := NewGraph("TestNumericalInstabilityWarning")
	w := NewVariable(g, "w", tensors.FromValue([]float64{0, 4}))
	sqrt := Sqrt(w)
	loss := ReduceAllSum(Log(Sub(sqrt, Scalar(g, dtypes.Float64, 1))))
	var warnings []*NumericalInstabilityWarning
	session := NewSession(g).SetWarningHandler(func(warning *NumericalInstabilityWarning) {
		warnings = append(warnings, warning)
	})

	// log(sqrt(0)-1) = log(-1) = NaN: reported at the first non-finite node, but not fatal.
	value, err := session.Run(loss)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(value.Value().(float64)))
	require.Len(t, warnings, 1)
	assert.Equal(t, "forward", warnings[0].Where)
	assert.Equal(t, NodeTypeLog, warnings[0].Node.Type())
	assert.Equal(t, 1, warnings[0].NumNaN)

	// d sqrt(w)/dw at 0 is +Inf.
	warnings = nil
	require.NoError(t, session.Backward(sqrt, nil))
	require.Len(t, warnings, 1)
	assert.Equal(t, "backward", warnings[0].Where)
	assert.Same(t, w.Variable(), warnings[0].Variable)
	assert.Equal(t, 1, warnings[0].NumInf)
	assert.Error(t, warnings[0])
}

func TestLogged(t *testing.T) {
	g := NewGraph("TestLogged")
	x := Const(g, []float32{1, 2})
	y := MulScalar(x, 2)
	y.SetLoggedf("y=%s", "2x")
	logged := map[string]*tensors.Tensor{}
	session := NewSession(g).SetLogger(func(node *Node, value *tensors.Tensor) {
		logged[node.LogMessage()] = value
	})
	must.M1(session.Run(ReduceAllSum(y)))
	require.Contains(t, logged, "y=2x")
	assert.Equal(t, []float32{2, 4}, logged["y=2x"].Value())
}

func TestErrorWithTrace(t *testing.T) {
	g := NewGraph("TestErrorWithTrace")
	g.SetTraced(true)
	x := Placeholder(g, "x", shapes.Make(dtypes.Float32, shapes.UnknownDim))
	y := Add(x, Const(g, []float32{1, 2}))
	session := NewSession(g)
	require.NoError(t, session.Bind(x, tensors.Zeros(dtypes.Float32, 3)))
	_, err := session.Run(y)
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch), "broadcasting [3] and [2] fails only at evaluation, got %v", err)
	assert.NotNil(t, y.Trace())
	assert.Contains(t, err.Error(), "created at")
}

type countingUpdater struct{ count int }

func (u *countingUpdater) Update(*Session) error {
	u.count++
	return nil
}

type failingUpdater struct{}

func (failingUpdater) Update(*Session) error { return errors.New("failed") }

func TestSessionLifecycle(t *testing.T) {
	g := NewGraph("TestSessionLifecycle")
	session := g.DefaultSession()
	assert.Same(t, session, g.DefaultSession())
	assert.Same(t, g, session.Graph())

	updater := &countingUpdater{}
	require.NoError(t, session.Step(updater))
	assert.Equal(t, 1, updater.count)
	assert.Equal(t, 1, session.Stats().Steps)
	require.Error(t, session.Step(failingUpdater{}))

	x := Const(g, float32(1))
	session.Finalize()
	_, err := session.Run(x)
	require.Error(t, err)
	assert.NotSame(t, session, g.DefaultSession())
	assert.NotEqual(t, session.ID(), g.DefaultSession().ID())
	assert.Equal(t, float32(1), must.M1(g.DefaultSession().Run(x)).Value())

	other := NewGraph("other")
	_, err = NewSession(other).Run(x)
	require.Error(t, err, "node from a different graph")
}
