// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers_test

import (
	"math"
	"math/rand/v2"
	"testing"

	. "github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halfOf builds a graph with a single variable p=[value] and loss=0.5*p, whose gradient is always 0.5.
func halfOf(value float64) (*Session, *Variable, *Node) {
	g := NewGraph("halfOf")
	p := NewVariable(g, "p", tensors.FromValue([]float64{value}))
	loss := MulScalar(p, 0.5)
	return NewSession(g), p.Variable(), loss
}

func TestAdam(t *testing.T) {
	session, p, loss := halfOf(1)
	opt := optimizers.Adam(loss).LearningRate(0.1).Done()
	must.M1(session.Run(loss))
	require.NoError(t, session.Step(opt))
	// First step of Adam moves by ~lr in the direction opposite to the gradient, regardless of its magnitude.
	assert.InDelta(t, 0.9, p.Value().FlatAt(0), 1e-6)
	assert.Equal(t, int64(1), opt.Step())
	assert.Equal(t, 1, session.Stats().Steps)

	// Update runs the forward pass if needed.
	require.NoError(t, opt.Update(session))
	assert.InDelta(t, 0.8, p.Value().FlatAt(0), 1e-6)

	// Clear resets the moments and the step counter.
	opt.Clear()
	assert.Equal(t, int64(0), opt.Step())
	opt.SetLearningRate(0.01)
	assert.Equal(t, 0.01, opt.LearningRate())
	require.NoError(t, opt.Update(session))
	assert.InDelta(t, 0.79, p.Value().FlatAt(0), 1e-6)
}

func TestAdamVariants(t *testing.T) {
	session, p, loss := halfOf(1)
	opt := optimizers.Adam(loss).LearningRate(0.1).Adamax().Done()
	require.NoError(t, opt.Update(session))
	// moment2 = max(0, |0.5|) = 0.5, and the step is moment1*10/0.5 = 1.
	assert.InDelta(t, 0.9, p.Value().FlatAt(0), 1e-6)

	session, p, loss = halfOf(1)
	opt = optimizers.Adam(loss).LearningRate(0.1).WeightDecay(0.5).Done()
	require.NoError(t, opt.Update(session))
	assert.InDelta(t, 1-0.1*(1+0.5), p.Value().FlatAt(0), 1e-6)

	require.Panics(t, func() { optimizers.Adam(loss).Betas(1, 0.999).Done() })
	require.Panics(t, func() { optimizers.Adam(loss).Epsilon(0).Done() })
}

func TestStochasticGradientDescent(t *testing.T) {
	g := NewGraph("TestStochasticGradientDescent")
	pNode := NewVariable(g, "p", tensors.FromValue([]float64{1, 2}))
	loss := ReduceAllSum(Square(pNode))
	session := NewSession(g)
	p := pNode.Variable()

	opt := optimizers.StochasticGradientDescent(loss).LearningRate(0.1).Done()
	before := must.M1(session.Run(pNode))
	require.NoError(t, session.Step(opt))
	assert.InDeltaSlice(t, []float64{0.8, 1.6}, p.Value().Float64s(), 1e-9)
	// Values returned by earlier runs are not changed by the update.
	assert.Equal(t, []float64{1, 2}, before.Float64s())
	assert.InDeltaSlice(t, []float64{0.8, 1.6}, must.M1(session.Run(pNode)).Float64s(), 1e-9)

	// Momentum: velocity accumulates across steps.
	require.NoError(t, p.SetValue(tensors.FromValue([]float64{1, 2})))
	opt = optimizers.StochasticGradientDescent(loss).LearningRate(0.1).Momentum(0.9, false).Done()
	require.NoError(t, opt.Update(session))
	assert.InDeltaSlice(t, []float64{0.8, 1.6}, p.Value().Float64s(), 1e-9)
	require.NoError(t, opt.Update(session))
	assert.InDeltaSlice(t, []float64{0.46, 0.92}, p.Value().Float64s(), 1e-9)

	// Batch size scales the gradient.
	require.NoError(t, p.SetValue(tensors.FromValue([]float64{1, 2})))
	opt = optimizers.StochasticGradientDescent(loss).LearningRate(0.1).BatchSize(2).Done()
	require.NoError(t, opt.Update(session))
	assert.InDeltaSlice(t, []float64{0.9, 1.8}, p.Value().Float64s(), 1e-9)
}

func TestAdaptive(t *testing.T) {
	session, p, loss := halfOf(1)
	opt := optimizers.RMSProp(loss).LearningRate(0.1).Done()
	require.NoError(t, opt.Update(session))
	want := 1 - 0.1*0.5/(math.Sqrt(0.1*0.25)+1e-7)
	assert.InDelta(t, want, p.Value().FlatAt(0), 1e-9)

	session, p, loss = halfOf(1)
	opt = optimizers.Adagrad(loss).LearningRate(0.1).Done()
	require.NoError(t, opt.Update(session))
	assert.InDelta(t, 0.9, p.Value().FlatAt(0), 1e-6)
	require.NoError(t, opt.Update(session))
	want = 0.9 - 0.1*0.5/(math.Sqrt(0.5)+1e-7)
	assert.InDelta(t, want, p.Value().FlatAt(0), 1e-6)
}

func TestNonTrainableSkipped(t *testing.T) {
	g := NewGraph("TestNonTrainableSkipped")
	w := NewVariable(g, "w", tensors.FromValue([]float64{1, 1}))
	frozen := NewVariable(g, "frozen", tensors.FromValue([]float64{3, 3}), WithTrainable(false))
	loss := ReduceAllSum(Mul(w, frozen))
	session := NewSession(g)
	opt := optimizers.StochasticGradientDescent(loss).LearningRate(0.1).Done()
	require.NoError(t, opt.Update(session))
	assert.InDeltaSlice(t, []float64{0.7, 0.7}, w.Variable().Value().Float64s(), 1e-9)
	assert.Equal(t, []float64{3, 3}, frozen.Variable().Value().Float64s())

	// Without trainable variables there is nothing to optimize.
	w.Variable().SetTrainable(false)
	require.Error(t, opt.Update(session))

	// Session of another graph.
	w.Variable().SetTrainable(true)
	other := NewSession(NewGraph("other"))
	require.Error(t, opt.Update(other))
}

func TestByName(t *testing.T) {
	names := optimizers.Names()
	assert.Equal(t, []string{"adagrad", "adam", "adamax", "adamw", "rmsprop", "sgd"}, names)
	_, _, loss := halfOf(1)
	for _, name := range names {
		opt := optimizers.ByName(loss, name)
		require.NotNil(t, opt, name)
		assert.Same(t, loss, opt.Loss())
	}
	require.Panics(t, func() { optimizers.ByName(loss, "unknown") })
}

// TestLinearRegression learns the 2x2 matrix W of y=x·W.
func TestLinearRegression(t *testing.T) {
	const numSamples = 64
	rng := rand.New(rand.NewPCG(113, 0))
	trueW := [][]float64{{2, -1}, {0.5, 3}}
	xs := make([][]float64, numSamples)
	ys := make([][]float64, numSamples)
	for ii := range numSamples {
		xs[ii] = []float64{rng.Float64(), rng.Float64()}
		ys[ii] = []float64{
			xs[ii][0]*trueW[0][0] + xs[ii][1]*trueW[1][0],
			xs[ii][0]*trueW[0][1] + xs[ii][1]*trueW[1][1],
		}
	}

	for _, name := range []string{"sgd", "adam"} {
		t.Run(name, func(t *testing.T) {
			g := NewGraph("TestLinearRegression")
			w := NewVariable(g, "w", tensors.FromValue([][]float64{{0.1, -0.1}, {0.2, 0.05}}))
			diff := Sub(MatMul(Const(g, xs), w), Const(g, ys))
			loss := ReduceAllMean(Square(diff))
			session := NewSession(g)

			var opt optimizers.Interface
			if name == "sgd" {
				opt = optimizers.StochasticGradientDescent(loss).LearningRate(0.1).Done()
			} else {
				opt = optimizers.Adam(loss).LearningRate(0.1).Done()
			}
			var losses []float64
			for range 2000 {
				lossValue := must.M1(session.Run(loss))
				losses = append(losses, lossValue.FlatAt(0))
				require.NoError(t, session.Step(opt))
			}
			avg := func(values []float64) (sum float64) {
				for _, v := range values {
					sum += v
				}
				return sum / float64(len(values))
			}
			assert.Less(t, avg(losses[len(losses)-50:]), avg(losses[:50]))
			assert.Less(t, losses[len(losses)-1], 1e-2)
			assert.InDeltaSlice(t, []float64{2, -1, 0.5, 3}, w.Variable().Value().Float64s(), 0.2)
		})
	}
}
