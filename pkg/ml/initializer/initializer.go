// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer provides the functions that create the initial values of variables.
package initializer

import (
	"math"

	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/random"
)

// Initializer creates the initial value of a variable with the given shape.
type Initializer func(shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes variables with zero.
	Zero Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return tensors.FromShape(shape)
	}

	// One initializes variables with one.
	One Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return Constant(1)(shape)
	}
)

// Constant returns an initializer that fills variables with value.
func Constant(value float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return tensors.Full(shape.DType, value, shape.Dimensions...)
	}
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(rng *random.Random, stddev float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		values := rng.Normal(shape)
		scale(values, stddev, 0)
		return values
	}
}

// NormalBySize returns an initializer that generates random normal values with mean 0 and standard deviation
// 1/sqrt(size), where size is the number of elements of the variable.
func NormalBySize(rng *random.Random) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return Normal(rng, 1/math.Sqrt(float64(max(1, shape.Size()))))(shape)
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
func Uniform(rng *random.Random, minValue, maxValue float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		values := rng.Uniform(shape)
		scale(values, maxValue-minValue, minValue)
		return values
	}
}

// scale changes t in place to t*multiplier + offset.
func scale(t *tensors.Tensor, multiplier, offset float64) {
	for ii := range t.Size() {
		t.SetFlatAt(ii, t.FlatAt(ii)*multiplier+offset)
	}
}

// GlorotUniform returns a Glorot uniform initializer, also called Xavier uniform initializer.
//
// It draws samples from a uniform distribution within `[-limit, limit]`, where
// `limit = sqrt(3 / ((fan_in + fan_out)/2))` (`fan_in` is the number of input units in
// the weight tensor and fan_out is the number of output units).
//
// It assumes the variables are either biases or weights of matrix multiplications, or convolution kernels.
// It initializes biases (anything with rank <= 1) to zeros.
func GlorotUniform(rng *random.Random) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			// Zero-bias.
			return Zero(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		limit := math.Sqrt(3.0 / max(1.0, float64(fanIn+fanOut)/2.0))
		return Uniform(rng, -limit, limit)(shape)
	}
}

// XavierNormal returns an initializer that generates random values with a normal distribution with mean in 0
// and stddev of sqrt(2 / (fanIn+fanOut)).
//
// It initializes biases (anything with rank <= 1) to zeros.
func XavierNormal(rng *random.Random) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return Zero(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		return Normal(rng, math.Sqrt(2.0/max(1.0, float64(fanIn+fanOut))))(shape)
	}
}

// computeFanInFanOut of a variable expected to be the weights of a matrix multiplication or a convolution kernel.
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	switch rank {
	case 0, 1:
		return 1, 1
	case 2:
		return shape.Dimensions[0], shape.Dimensions[1]
	default:
		receptiveFieldSize := 1
		for _, dim := range shape.Dimensions[:rank-2] {
			receptiveFieldSize *= dim
		}
		fanIn = shape.Dimensions[rank-2] * receptiveFieldSize
		fanOut = shape.Dimensions[rank-1] * receptiveFieldSize
	}
	return
}

// Variable creates a variable in the graph, with the value created by the initializer, and returns its node.
func Variable(g *graph.Graph, name string, shape shapes.Shape, initializer Initializer,
	options ...graph.VariableOption) *graph.Node {
	return graph.NewVariable(g, name, initializer(shape), options...)
}
