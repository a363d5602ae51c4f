// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"math"
	"testing"

	"github.com/gomlx/autograph/pkg/ml/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateData(t *testing.T) {
	a, b, c := generateData(random.NewWithSeed(1), 3, 2)
	require.Equal(t, []int{3, 4}, c.Shape().Dimensions)
	for idx := range 3 {
		base := idx * 4
		at := func(x []float64, row, col int) float64 { return x[base+row*2+col] }
		av, bv, cv := a.Float64s(), b.Float64s(), c.Float64s()
		for row := range 2 {
			for col := range 2 {
				want := at(av, row, 0)*at(bv, 0, col) + at(av, row, 1)*at(bv, 1, col)
				assert.InDelta(t, want, at(cv, row, col), 1e-5)
			}
		}
	}
}

func TestAlpha(t *testing.T) {
	assert.Equal(t, 1.0, Alpha(0))
	assert.InDelta(t, 1+0.05*10*1.01, Alpha(10), 1e-12)
	assert.Less(t, Alpha(100), Alpha(101))
}

func TestInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Ops = 0
	_, err := NewSearch(config)
	require.Error(t, err)
}

func TestSmallSearch(t *testing.T) {
	config := DefaultConfig()
	config.M = 1
	config.Ops = 1
	config.Scale = 2
	config.Epochs = 50
	config.TrainingSamples = 16
	config.Iterations = 3
	search, err := NewSearch(config)
	require.NoError(t, err)
	assert.Equal(t, uintptr(4*(2+2+1)*3), search.ParametersMemory())

	var out bytes.Buffer
	_, err = search.Run(&out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Loss at iteration 0")
	assert.Positive(t, search.loop.LoopStep)
	assert.LessOrEqual(t, search.loop.LoopStep, config.Epochs*config.Iterations)
	history := search.loop.LossHistory()
	require.NotEmpty(t, history)
	assert.Less(t, history[len(history)-1], history[0])

	finalLoss, err := search.Finalize()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(finalLoss))

	coefficients, err := search.Coefficients()
	require.NoError(t, err)
	require.Len(t, coefficients, 3)
	for _, coef := range coefficients {
		assert.Equal(t, []int{1, 1}, coef.Shape().Dimensions)
	}

	out.Reset()
	require.NoError(t, search.Report(&out, finalLoss))
	report := out.String()
	assert.Contains(t, report, "GEMM search")
	assert.Contains(t, report, "final error")
	assert.Contains(t, report, "AA is")
	assert.Contains(t, report, "CC is")
}
