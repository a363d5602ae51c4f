// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	mean := NewMeanMetric("Mean Loss", "loss", nil)
	ema := NewExponentialMovingAverageMetric("Moving Average Loss", "~loss", 0.5, nil)
	median := NewMedianMetric("Median Loss", "med", func(v float64) string { return "median" }).WithSampleSize(3)
	assert.Equal(t, 0.0, mean.Value())
	assert.Equal(t, 0.0, median.Value())
	for _, v := range []float64{1, 2, 3, 10} {
		mean.Update(v)
		ema.Update(v)
		median.Update(v)
	}
	assert.Equal(t, 4.0, mean.Value())
	assert.Equal(t, "4", mean.PrettyPrint())
	// The first two values are averaged, then 1.5 -> 2.25 -> 6.125.
	assert.Equal(t, 6.125, ema.Value())
	assert.Equal(t, "median", median.PrettyPrint())
	assert.Contains(t, []float64{2, 3, 10}, median.Value())

	mean.Reset()
	ema.Reset()
	median.Reset()
	assert.Equal(t, 0.0, mean.Value())
	assert.Equal(t, 0.0, ema.Value())
	assert.Equal(t, 0.0, median.Value())

	require.Panics(t, func() { NewExponentialMovingAverageMetric("bad", "bad", 0, nil) })
}

func TestAttach(t *testing.T) {
	g := graph.NewGraph("TestAttach")
	w := graph.NewVariable(g, "w", tensors.FromValue([]float64{1}))
	loss := graph.ReduceAllSum(w)
	loop := train.NewLoop(graph.NewSession(g), loss, optimizers.StochasticGradientDescent(loss).LearningRate(0.5).Done())
	mean := NewMeanMetric("Mean Loss", "loss", nil)
	Attach(loop, mean)
	require.Equal(t, []Interface{mean}, Attached(loop))

	// Loss is w, and it decreases 0.5 at each step: 1, 0.5, 0, -0.5
	_, err := loop.RunSteps(nil, 4)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, mean.Value(), 1e-9)

	// Reset at the start of each run.
	_, err = loop.RunSteps(nil, 1)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, mean.Value(), 1e-9)
}
