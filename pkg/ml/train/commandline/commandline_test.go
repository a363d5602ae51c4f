// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"

	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/autograph/pkg/ml/train/metrics"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoop() *train.Loop {
	g := graph.NewGraph("commandline")
	w := graph.NewVariable(g, "w", tensors.FromValue([]float64{2}))
	loss := graph.ReduceAllSum(graph.Square(w))
	loop := train.NewLoop(graph.NewSession(g), loss, optimizers.StochasticGradientDescent(loss).LearningRate(0.1).Done())
	metrics.Attach(loop, metrics.NewMeanMetric("Mean Loss", "loss", nil))
	return loop
}

func TestProgressBar(t *testing.T) {
	loop := newLoop()
	var out bytes.Buffer
	attachProgressBar(loop, &out)
	_, err := loop.RunSteps(nil, 1200)
	require.NoError(t, err)
	output := out.String()
	assert.Contains(t, output, "Training (1,200 steps)")
	assert.Contains(t, output, "Global Step")
	assert.Contains(t, output, "Mean Loss")

	// It can be run again.
	out.Reset()
	_, err = loop.RunSteps(nil, 10)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Training (10 steps)")
}

func TestReportLoop(t *testing.T) {
	loop := newLoop()
	_, err := loop.RunSteps(nil, 3)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, ReportLoop(&out, loop))
	report := out.String()
	assert.Contains(t, report, "Steps")
	assert.Contains(t, report, "First Loss")
	// Loss is 4 at the first step.
	assert.Regexp(t, `First Loss\s*│\s*4\s`, report)
	assert.Contains(t, report, "Mean Loss")
}
