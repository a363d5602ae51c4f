// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package random

import (
	"math"
	"testing"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandom(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 100, 100)
	r1, r2 := NewWithSeed(113), NewWithSeed(113)
	u1, u2 := r1.Uniform(shape), r2.Uniform(shape)
	require.True(t, u1.Equal(u2), "same seed must generate the same values")
	var sum float64
	for _, v := range u1.Float64s() {
		require.True(t, v >= 0 && v < 1)
		sum += v
	}
	assert.InDelta(t, 0.5, sum/float64(u1.Size()), 0.02)

	n := r1.Normal(shapes.Make(dtypes.Float64, 10000))
	var sumSq float64
	sum = 0
	for _, v := range n.Float64s() {
		sum += v
		sumSq += v * v
	}
	mean := sum / 10000
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 1, math.Sqrt(sumSq/10000-mean*mean), 0.05)

	// Split generators are deterministic, but differ from the parent.
	s1, s2 := NewWithSeed(7).Split(), NewWithSeed(7).Split()
	assert.Equal(t, s1.Seed(), s2.Seed())
	assert.NotEqual(t, uint64(7), s1.Seed())

	require.Panics(t, func() { r1.Uniform(shapes.Make(dtypes.Float32, shapes.UnknownDim, 2)) })
}
