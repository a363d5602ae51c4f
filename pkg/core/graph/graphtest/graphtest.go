// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// TestGraphFn should build its own inputs, and return both inputs and outputs
type TestGraphFn func(g *graph.Graph) (inputs, outputs []*graph.Node)

// toDTypeOf converts want to the dtype of the output, so values given as Go float64 can be compared with
// Float32 outputs.
func toDTypeOf(want, output *tensors.Tensor) *tensors.Tensor {
	if want.DType() == output.DType() {
		return want
	}
	out := tensors.Zeros(output.DType(), want.Shape().Dimensions...)
	tensors.AssignFlatData(out, want.Float64s())
	return out
}

// RunTestGraphFn tests a graph building function graphFn by evaluating it in a new session and comparing
// its output(s) to the values in want, reporting back any errors in t.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RunTestGraphFn(t *testing.T, testName string, graphFn TestGraphFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		g := graph.NewGraph(testName)
		inputs, outputs := graphFn(g)
		require.Equalf(t, len(want), len(outputs), "%s: number of wanted results different from number of outputs", testName)
		session := graph.NewSession(g)
		defer session.Finalize()
		all := append(append([]*graph.Node{}, inputs...), outputs...)
		var values []*tensors.Tensor
		require.NotPanicsf(t, func() {
			var err error
			values, err = session.RunMany(all...)
			require.NoError(t, err)
		}, "%s: failed to evaluate graph", testName)

		fmt.Printf("\n%s:\n", testName)
		for ii, input := range values[:len(inputs)] {
			fmt.Printf("\tInput %d: %s\n", ii, input)
		}
		if len(inputs) > 0 {
			fmt.Printf("\t======\n")
		}
		for ii, output := range values[len(inputs):] {
			fmt.Printf("\tOutput %d: %s\n", ii, output)
		}
		for ii, output := range values[len(inputs):] {
			wantTensor := toDTypeOf(tensors.FromAnyValue(want[ii]), output)
			if delta <= 0 {
				require.Truef(t, wantTensor.Equal(output), "%s: output #%d doesn't match wanted value %v",
					testName, ii, want[ii])
			} else {
				require.Truef(t, wantTensor.InDelta(output, delta), "%s: output #%d doesn't match wanted value %v",
					testName, ii, want[ii])
			}
		}
	})
}

// NumericGradient estimates the gradient of the sum of the elements of loss with respect to the variable,
// using central differences with step epsilon. The regularization terms of the variable are included, so the
// result is comparable to the one accumulated by Session.Backward.
//
// The loss must be deterministic: nodes like graph.RandomNormalLike break the estimate.
func NumericGradient(session *graph.Session, loss *graph.Node, v *graph.Variable, epsilon float64) ([]float64, error) {
	lossSum := func() (float64, error) {
		value, err := session.Run(loss)
		if err != nil {
			return 0, err
		}
		var sum float64
		for _, x := range value.Float64s() {
			sum += x
		}
		return sum, nil
	}
	size := v.Value().Size()
	grad := make([]float64, size)
	for ii := range size {
		original := v.Value().FlatAt(ii)
		v.Update(func(value *tensors.Tensor) { value.SetFlatAt(ii, original+epsilon) })
		plus, err := lossSum()
		if err != nil {
			return nil, err
		}
		v.Update(func(value *tensors.Tensor) { value.SetFlatAt(ii, original-epsilon) })
		minus, err := lossSum()
		if err != nil {
			return nil, err
		}
		v.Update(func(value *tensors.Tensor) { value.SetFlatAt(ii, original) })
		regularization := v.L2() * original
		if original > 0 {
			regularization += v.L1()
		} else if original < 0 {
			regularization -= v.L1()
		}
		grad[ii] = (plus-minus)/(2*epsilon) + regularization
	}
	return grad, nil
}

// CheckGradients compares, for every trainable variable loss depends on, the gradient computed by
// Session.Backward (with a seed of ones) against the NumericGradient estimate.
//
// Values are accepted if |analytic-numeric| <= tolerance * max(1, |analytic|, |numeric|).
// Float64 variables are recommended, Float32 precision is rarely enough for small epsilons.
func CheckGradients(t *testing.T, session *graph.Session, loss *graph.Node, epsilon, tolerance float64) {
	g := session.Graph()
	vars := g.TrainableVariables(loss)
	require.NotEmptyf(t, vars, "no trainable variables reachable from %s", loss)
	require.NoError(t, session.Backward(loss, nil))
	analytic := make([][]float64, len(vars))
	for ii, v := range vars {
		analytic[ii] = v.Gradient().Float64s()
	}
	for ii, v := range vars {
		numeric, err := NumericGradient(session, loss, v, epsilon)
		require.NoError(t, err)
		for jj, want := range numeric {
			got := analytic[ii][jj]
			scale := max(1, math.Abs(got), math.Abs(want))
			require.LessOrEqualf(t, math.Abs(got-want), tolerance*scale,
				"gradient of variable %q, element #%d: backward=%g, numeric=%g", v.Name(), jj, got, want)
		}
	}
}
