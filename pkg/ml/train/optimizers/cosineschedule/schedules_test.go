// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cosineschedule_test

import (
	"math"
	"testing"

	. "github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers/cosineschedule"
	"github.com/stretchr/testify/require"
)

func newLoop() *train.Loop {
	g := NewGraph("cosineschedule")
	w := NewVariable(g, "w", tensors.FromValue([]float64{1}))
	loss := ReduceAllSum(Square(w))
	return train.NewLoop(NewSession(g), loss, optimizers.StochasticGradientDescent(loss).LearningRate(1).Done())
}

func TestCosineAnnealingSchedule(t *testing.T) {
	const periodInSteps = 100
	const minLearningRate = 0.001
	const baseLearningRate = 1.0

	for _, warmUpSteps := range []int{0, 10} {
		loop := newLoop()
		cosineschedule.New(loop).
			PeriodInSteps(periodInSteps).
			MinLearningRate(minLearningRate).
			WarmUpSteps(warmUpSteps).
			Done()
		var lrs []float64
		loop.OnStep("record", 0, func(loop *train.Loop, _ float64) error {
			// The schedule already set the learning rate of the next step.
			lrs = append(lrs, loop.Optimizer.LearningRate())
			return nil
		})
		_, err := loop.RunSteps(nil, 2*periodInSteps+warmUpSteps)
		require.NoError(t, err)
		for ii, lr := range lrs {
			step := ii + 1
			var ratio float64
			if step < warmUpSteps {
				ratio = float64(step) / float64(warmUpSteps)
			} else {
				cycle := float64(step-warmUpSteps) / float64(periodInSteps)
				ratio = (math.Cos((cycle-math.Floor(cycle))*math.Pi) + 1.0) / 2.0
			}
			wantLR := ratio*(baseLearningRate-minLearningRate) + minLearningRate
			require.InDeltaf(t, wantLR, lr, 1e-9, "warmUp=%d, step=%d", warmUpSteps, step)
		}
	}
}

func TestFractionOfTraining(t *testing.T) {
	loop := newLoop()
	config := cosineschedule.New(loop).LearningRate(0.5).PeriodInSteps(-2)
	config.Done()
	// Two cycles over the 100 steps.
	require.InDelta(t, 0.5, config.LearningRateAt(0, 100), 1e-9)
	require.InDelta(t, 0.25, config.LearningRateAt(25, 100), 1e-9)
	require.InDelta(t, 0.5, config.LearningRateAt(50, 100), 1e-9)
	// Unknown last step.
	require.InDelta(t, 0.5, config.LearningRateAt(50, -1), 1e-6)

	// Disabled.
	disabled := cosineschedule.New(loop).LearningRate(0.3)
	disabled.Done()
	require.Equal(t, 0.3, disabled.LearningRateAt(77, 100))
}
