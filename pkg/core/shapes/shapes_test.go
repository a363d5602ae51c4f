// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 0, 3) })
	require.Panics(t, func() { _ = Make(dtypes.Float32, -2) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(-1))
	require.Equal(t, 4, shape.Dim(-3))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })

	axis, err := shape.AdjustAxis(-2)
	require.NoError(t, err)
	require.Equal(t, 1, axis)
	_, err = shape.AdjustAxis(3)
	require.Error(t, err)
}

func TestWildcard(t *testing.T) {
	batch := Make(dtypes.Float32, UnknownDim, 4)
	require.True(t, batch.HasWildcard())
	require.Equal(t, "(Float32)[? 4]", batch.String())
	require.Panics(t, func() { _ = batch.Size() })

	require.True(t, batch.Matches(Make(dtypes.Float32, 7, 4)))
	require.True(t, batch.Matches(Make(dtypes.Float32, 1, 4)))
	require.False(t, batch.Matches(Make(dtypes.Float32, 7, 5)))
	require.False(t, batch.Matches(Make(dtypes.Float64, 7, 4)))
	require.False(t, batch.Matches(Make(dtypes.Float32, 4)))
	require.Error(t, batch.CheckMatches(Make(dtypes.Float32, 7, 3)))

	// Equal doesn't treat wildcards specially.
	require.False(t, batch.Equal(Make(dtypes.Float32, 7, 4)))
	require.True(t, batch.Equal(batch.Clone()))
}

func TestCheckDims(t *testing.T) {
	shape := Make(dtypes.Float64, 3, 2)
	require.NoError(t, shape.CheckDims(3, 2))
	require.NoError(t, shape.CheckDims(-1, 2))
	require.Error(t, shape.CheckDims(3))
	require.Error(t, shape.CheckDims(3, 3))
	require.Panics(t, func() { shape.AssertDims(2, 2) })
}

func TestBroadcast(t *testing.T) {
	testCases := []struct {
		a, b, want []int
		fails      bool
	}{
		{a: []int{2, 3}, b: []int{2, 3}, want: []int{2, 3}},
		{a: []int{2, 3}, b: []int{}, want: []int{2, 3}},
		{a: []int{2, 3}, b: []int{3}, want: []int{2, 3}},
		{a: []int{2, 1}, b: []int{1, 3}, want: []int{2, 3}},
		{a: []int{4, 1, 3}, b: []int{2, 1}, want: []int{4, 2, 3}},
		{a: []int{2, 3}, b: []int{2}, fails: true},
		{a: []int{UnknownDim, 3}, b: []int{3}, want: []int{UnknownDim, 3}},
		{a: []int{UnknownDim, 3}, b: []int{5, 1}, want: []int{5, 3}},
		{a: []int{UnknownDim}, b: []int{UnknownDim}, want: []int{UnknownDim}},
		{a: []int{1}, b: []int{UnknownDim}, want: []int{UnknownDim}},
	}
	for _, tc := range testCases {
		got, err := BroadcastDims(tc.a, tc.b)
		if tc.fails {
			assert.Errorf(t, err, "broadcast(%v, %v) should have failed", tc.a, tc.b)
			continue
		}
		require.NoErrorf(t, err, "broadcast(%v, %v)", tc.a, tc.b)
		assert.Equalf(t, tc.want, got, "broadcast(%v, %v)", tc.a, tc.b)
	}

	_, err := Broadcast(Make(dtypes.Float32, 2), Make(dtypes.Float64, 2))
	require.Error(t, err)
	s, err := Broadcast(Make(dtypes.Float32, 2, 1), Make(dtypes.Float32, 4))
	require.NoError(t, err)
	require.Equal(t, "(Float32)[2 4]", s.String())

	require.True(t, Make(dtypes.Float32, 3).IsBroadcastableTo(Make(dtypes.Float32, 2, 3)))
	require.True(t, Scalar(dtypes.Float32).IsBroadcastableTo(Make(dtypes.Float32, 2, 3)))
	require.False(t, Make(dtypes.Float32, 2, 3).IsBroadcastableTo(Make(dtypes.Float32, 3)))
	require.False(t, Make(dtypes.Float32, 2).IsBroadcastableTo(Make(dtypes.Float32, 2, 3)))
}

func TestStrides(t *testing.T) {
	require.Equal(t, []int{12, 4, 1}, Make(dtypes.Float32, 2, 3, 4).Strides())
	require.Equal(t, []int{1}, Make(dtypes.Float32, 5).Strides())
	require.Equal(t, []int{2, 2, 1}, Make(dtypes.Float32, 3, 1, 2).Strides())

	strides, err := BroadcastStrides([]int{3, 1}, []int{2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 0}, strides)
	_, err = BroadcastStrides([]int{3, 2}, []int{3, 4})
	require.Error(t, err)
}

func TestIter(t *testing.T) {
	shape := Make(dtypes.Float64, 3, 2)
	collect := make([][]int, 0, shape.Size())
	var counter int
	for flatIdx, indices := range shape.Iter() {
		collect = append(collect, slices.Clone(indices))
		require.Equal(t, counter, flatIdx)
		counter++
	}
	want := [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}, {2, 1}}
	require.Equal(t, want, collect)

	// Scalar yields exactly once.
	counter = 0
	for range Scalar(dtypes.Float32).Iter() {
		counter++
	}
	require.Equal(t, 1, counter)
}
