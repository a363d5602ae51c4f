// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have several standard losses that implement the LossFn interface. They can also
// be called separately by custom losses.
//
// All losses return a scalar: the mean of the per-element (or per-example) losses.
package losses

import (
	"fmt"

	. "github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// LossFn is the interface shared by the losses of this package.
//
// It takes as inputs the labels and predictions:
//   - labels usually come from placeholders bound to the dataset.
//   - predictions come from the model.
//
// Most of the predefined losses assume labels and predictions are both of length one. For multi-head models,
// it's very easy to write a small custom LossFn that splits the slice and send each label/prediction pair to a
// predefined loss.
type LossFn func(labels, predictions []*Node) (loss *Node)

const (
	Epsilon32 = 1e-7
	Epsilon64 = 1e-8
)

func epsilonForDType(g *Graph, dtype dtypes.DType) *Node {
	if dtype == dtypes.Float64 {
		return Scalar(g, dtype, Epsilon64)
	}
	return Scalar(g, dtype, Epsilon32)
}

// compatible returns whether the two shapes are equal, up to wildcard dimensions.
func compatible(a, b shapes.Shape) bool {
	return a.Equal(b) || a.Matches(b) || b.Matches(a)
}

// checkSameShape panics with a *ShapeMismatchError if labels and predictions shapes are not compatible.
func checkSameShape(lossName string, labels, predictions *Node) {
	if !compatible(labels.Shape(), predictions.Shape()) {
		panic(errors.WithStack(&ShapeMismatchError{
			Op:     lossName,
			Shapes: []shapes.Shape{labels.Shape(), predictions.Shape()},
			Reason: "labels and predictions must have the same shape",
		}))
	}
}

// checkWeights returns the optional weights in labels[1], which must have the shape of labels[0].
func checkWeights(lossName string, weightsShape shapes.Shape, labels []*Node) (weights *Node) {
	switch len(labels) {
	case 1:
		return nil
	case 2:
		weights = labels[1]
		if !compatible(weightsShape, weights.Shape()) {
			panic(errors.WithStack(&ShapeMismatchError{
				Op:     lossName,
				Shapes: []shapes.Shape{weightsShape, weights.Shape()},
				Reason: "weights (labels[1]) must have the shape of the per-example losses",
			}))
		}
		return weights
	}
	panic(errors.Errorf("%s: labels ([]*Node) has %d elements, expected the labels and optional weights",
		lossName, len(labels)))
}

func checkArgs(lossName string, labels, predictions []*Node) {
	if len(labels) == 0 || len(predictions) != 1 {
		panic(errors.Errorf("%s: expected one or two labels and one prediction, got %d and %d",
			lossName, len(labels), len(predictions)))
	}
}

// MeanSquaredError returns the mean squared error between labels and predictions.
//
// labels and predictions must have the same shape.
//
// If there is an extra element in the input labels with the shape of the labels[0],
// it is assumed to be weights tensor to be applied to the losses.
func MeanSquaredError(labels, predictions []*Node) (loss *Node) {
	checkArgs("MeanSquaredError", labels, predictions)
	labels0, predictions0 := labels[0], predictions[0]
	checkSameShape("MeanSquaredError", labels0, predictions0)
	weights := checkWeights("MeanSquaredError", labels0.Shape(), labels)
	loss = Square(Sub(labels0, predictions0))
	if weights != nil {
		loss = Mul(loss, weights)
	}
	return ReduceAllMean(loss)
}

// MeanAbsoluteError returns the mean absolute error between labels and predictions.
//
// labels and predictions must have the same shape. Optional weights are given as in MeanSquaredError.
func MeanAbsoluteError(labels, predictions []*Node) (loss *Node) {
	checkArgs("MeanAbsoluteError", labels, predictions)
	labels0, predictions0 := labels[0], predictions[0]
	checkSameShape("MeanAbsoluteError", labels0, predictions0)
	weights := checkWeights("MeanAbsoluteError", labels0.Shape(), labels)
	loss = Abs(Sub(labels0, predictions0))
	if weights != nil {
		loss = Mul(loss, weights)
	}
	return ReduceAllMean(loss)
}

// BinaryCrossentropy returns the mean cross-entropy loss between labels and predictions,
// for binary classification tasks. Labels are expected to be 1.0 (for true) or 0.0 for false, and predictions
// probabilities in (0, 1).
func BinaryCrossentropy(labels, predictions []*Node) *Node {
	checkArgs("BinaryCrossentropy", labels, predictions)
	labels0, predictions0 := labels[0], predictions[0]
	checkSameShape("BinaryCrossentropy", labels0, predictions0)
	weights := checkWeights("BinaryCrossentropy", labels0.Shape(), labels)
	epsilon := epsilonForDType(predictions0.Graph(), predictions0.DType())
	losses := Neg(Add(
		Mul(labels0, Log(Add(predictions0, epsilon))),
		Mul(OneMinus(labels0), Log(Add(OneMinus(predictions0), epsilon)))))
	if weights != nil {
		losses = Mul(losses, weights)
	}
	return ReduceAllMean(losses)
}

// CategoricalCrossEntropy returns the cross-entropy loss of the predictions, given the labels.
//
// predictions are probabilities (e.g. the output of a Softmax) over the last axis, and the labels are
// the expected distribution over the same axis (usually one-hot encoded). The per-example loss is
// `-sum(labels * log(predictions + epsilon))` over the last axis, and the returned loss is its mean.
//
// Optional weights (labels[1]) must have the shape of the predictions without the last axis.
func CategoricalCrossEntropy(labels, predictions []*Node) *Node {
	checkArgs("CategoricalCrossEntropy", labels, predictions)
	labels0, predictions0 := labels[0], predictions[0]
	checkSameShape("CategoricalCrossEntropy", labels0, predictions0)
	rank := predictions0.Rank()
	if rank == 0 {
		panic(errors.WithStack(&ShapeMismatchError{
			Op:     "CategoricalCrossEntropy",
			Shapes: []shapes.Shape{labels0.Shape(), predictions0.Shape()},
			Reason: "predictions must have at least one axis with the categories",
		}))
	}
	weightsShape := shapes.Make(predictions0.DType(), predictions0.Shape().Dimensions[:rank-1]...)
	weights := checkWeights("CategoricalCrossEntropy", weightsShape, labels)
	epsilon := epsilonForDType(predictions0.Graph(), predictions0.DType())
	losses := Neg(ReduceSum(Mul(labels0, Log(Add(predictions0, epsilon))), rank-1))
	if weights != nil {
		losses = Mul(losses, weights)
	}
	return ReduceAllMean(losses)
}

// MakeHuberLoss returns a Huber loss function: it's similar to an L2 (MeanSquaredError) close to the target,
// and it becomes L1 (linear) away from the target.
//
// The delta parameter configures the range where the loss behaves as L2: if the prediction is further than
// delta it becomes linear. It also defines the slope. A good default value is 1.0.
func MakeHuberLoss(delta float64) LossFn {
	if delta <= 0 {
		panic(errors.Errorf("MakeHuberLoss: delta must be > 0, got %g", delta))
	}
	return func(labels, predictions []*Node) *Node {
		checkArgs(fmt.Sprintf("HuberLoss(%g)", delta), labels, predictions)
		labels0, predictions0 := labels[0], predictions[0]
		checkSameShape("HuberLoss", labels0, predictions0)
		weights := checkWeights("HuberLoss", labels0.Shape(), labels)
		absErrors := Abs(Sub(predictions0, labels0))
		quadratic := Min(absErrors, Scalar(absErrors.Graph(), absErrors.DType(), delta))
		linear := Sub(absErrors, quadratic)
		losses := Add(MulScalar(Square(quadratic), 0.5), MulScalar(linear, delta))
		if weights != nil {
			losses = Mul(losses, weights)
		}
		return ReduceAllMean(losses)
	}
}
