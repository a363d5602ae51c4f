// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/core/tensors/kernels"
	"github.com/gomlx/exceptions"
)

// This file holds the graph building functions of the expressions: they validate the shapes of the operands,
// infer the shape of the result and register a new node. Nothing is computed here, see exec_ops.go for the
// forward evaluation and vjp.go for the gradients.

func operandShapes(operands ...*Node) []shapes.Shape {
	s := make([]shapes.Shape, len(operands))
	for ii, operand := range operands {
		s[ii] = operand.shape
	}
	return s
}

// binaryOp builds an elementwise operation with broadcasting.
func binaryOp(op NodeType, lhs, rhs *Node) *Node {
	g := validateBuildingGraphFromInputs(lhs, rhs)
	if lhs.DType() != rhs.DType() {
		shapeMismatchf(op.String(), operandShapes(lhs, rhs), "operands have different dtypes %s and %s", lhs.DType(), rhs.DType())
	}
	dims, err := shapes.BroadcastDims(lhs.shape.Dimensions, rhs.shape.Dimensions)
	if err != nil {
		shapeMismatchf(op.String(), operandShapes(lhs, rhs), "%v", err)
	}
	return newNode(g, op, shapes.Make(lhs.DType(), dims...), nil, lhs, rhs)
}

// unaryOp builds an elementwise operation, the output has the same shape as the input.
func unaryOp(op NodeType, x *Node, params any) *Node {
	g := validateBuildingGraphFromInputs(x)
	return newNode(g, op, x.shape.Clone(), params, x)
}

// Add returns lhs + rhs, elementwise with broadcasting.
func Add(lhs, rhs *Node) *Node { return binaryOp(NodeTypeAdd, lhs, rhs) }

// Sub returns lhs - rhs, elementwise with broadcasting.
func Sub(lhs, rhs *Node) *Node { return binaryOp(NodeTypeSub, lhs, rhs) }

// Mul returns the elementwise product lhs * rhs, with broadcasting. See MatMul for the matrix product.
func Mul(lhs, rhs *Node) *Node { return binaryOp(NodeTypeMul, lhs, rhs) }

// ElementwiseProduct is an alias to Mul.
func ElementwiseProduct(lhs, rhs *Node) *Node { return Mul(lhs, rhs) }

// HadamardProduct is an alias to Mul.
func HadamardProduct(lhs, rhs *Node) *Node { return Mul(lhs, rhs) }

// Div returns lhs / rhs, elementwise with broadcasting.
func Div(lhs, rhs *Node) *Node { return binaryOp(NodeTypeDiv, lhs, rhs) }

// Max returns the elementwise maximum of lhs and rhs, with broadcasting.
// On ties the gradient goes to lhs.
func Max(lhs, rhs *Node) *Node { return binaryOp(NodeTypeMax, lhs, rhs) }

// Min returns the elementwise minimum of lhs and rhs, with broadcasting.
// On ties the gradient goes to lhs.
func Min(lhs, rhs *Node) *Node { return binaryOp(NodeTypeMin, lhs, rhs) }

// Pow returns base^exponent, elementwise with broadcasting.
func Pow(base, exponent *Node) *Node { return binaryOp(NodeTypePow, base, exponent) }

// AddScalar returns x + value.
func AddScalar(x *Node, value float64) *Node {
	return Add(x, Scalar(x.Graph(), x.DType(), value))
}

// MulScalar returns x * value.
func MulScalar(x *Node, value float64) *Node {
	return Mul(x, Scalar(x.Graph(), x.DType(), value))
}

// DivScalar returns x / value.
func DivScalar(x *Node, value float64) *Node {
	return Mul(x, Scalar(x.Graph(), x.DType(), 1/value))
}

// OneMinus returns 1 - x.
func OneMinus(x *Node) *Node {
	return Sub(Scalar(x.Graph(), x.DType(), 1), x)
}

// Square returns x*x.
func Square(x *Node) *Node {
	return Mul(x, x)
}

// Neg returns -x.
func Neg(x *Node) *Node { return unaryOp(NodeTypeNeg, x, nil) }

// Abs returns |x|.
func Abs(x *Node) *Node { return unaryOp(NodeTypeAbs, x, nil) }

// Sign returns -1, 0 or 1 depending on the sign of x. It has no gradient.
func Sign(x *Node) *Node { return unaryOp(NodeTypeSign, x, nil) }

// Exp returns e^x.
func Exp(x *Node) *Node { return unaryOp(NodeTypeExp, x, nil) }

// Log returns the natural logarithm of x.
func Log(x *Node) *Node { return unaryOp(NodeTypeLog, x, nil) }

// Sqrt returns the square root of x.
func Sqrt(x *Node) *Node { return unaryOp(NodeTypeSqrt, x, nil) }

// Tanh returns the hyperbolic tangent of x.
func Tanh(x *Node) *Node { return unaryOp(NodeTypeTanh, x, nil) }

// Sigmoid returns 1/(1+exp(-x)).
func Sigmoid(x *Node) *Node { return unaryOp(NodeTypeSigmoid, x, nil) }

// Relu returns max(x, 0).
func Relu(x *Node) *Node { return unaryOp(NodeTypeRelu, x, nil) }

// LeakyRelu returns x for x > 0, and alpha*x otherwise.
func LeakyRelu(x *Node, alpha float64) *Node { return unaryOp(NodeTypeLeakyRelu, x, alpha) }

// Elu returns x for x > 0, and alpha*(exp(x)-1) otherwise.
func Elu(x *Node, alpha float64) *Node { return unaryOp(NodeTypeElu, x, alpha) }

// Softplus returns log(1+exp(x)), computed in a numerically stable way.
func Softplus(x *Node) *Node { return unaryOp(NodeTypeSoftplus, x, nil) }

// Sin returns the sine of x.
func Sin(x *Node) *Node { return unaryOp(NodeTypeSin, x, nil) }

// Cos returns the cosine of x.
func Cos(x *Node) *Node { return unaryOp(NodeTypeCos, x, nil) }

// StopGradient returns x unchanged, but no gradient flows through it.
func StopGradient(x *Node) *Node { return unaryOp(NodeTypeStopGradient, x, nil) }

// MatMul returns the matrix product of lhs and rhs. Supported shapes:
//
//   - [m, k] x [k, n] -> [m, n]
//   - [batch, m, k] x [k, n] -> [batch, m, n]
//   - [batch, m, k] x [batch, k, n] -> [batch, m, n]
func MatMul(lhs, rhs *Node) *Node {
	g := validateBuildingGraphFromInputs(lhs, rhs)
	if lhs.DType() != rhs.DType() {
		shapeMismatchf("MatMul", operandShapes(lhs, rhs), "operands have different dtypes %s and %s", lhs.DType(), rhs.DType())
	}
	dims, err := kernels.MatMulDims(lhs.shape.Dimensions, rhs.shape.Dimensions)
	if err != nil {
		shapeMismatchf("MatMul", operandShapes(lhs, rhs), "%v", err)
	}
	return newNode(g, NodeTypeMatMul, shapes.Make(lhs.DType(), dims...), nil, lhs, rhs)
}

// Transpose permutes the axes of x: output axis i is the input axis permutation[i].
// With no permutation, the order of the axes is reversed (the usual matrix transpose for rank 2).
func Transpose(x *Node, permutation ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	dims, permutation, err := kernels.TransposeDims(x.shape.Dimensions, permutation)
	if err != nil {
		shapeMismatchf("Transpose", operandShapes(x), "%v", err)
	}
	return newNode(g, NodeTypeTranspose, shapes.Make(x.DType(), dims...), permutation, x)
}

// Reshape x to the given dimensions. One of the dimensions can be -1, in which case it is inferred from the
// total size. If x has wildcard axes, the inference (and the validation of the total size) happens when
// evaluated.
func Reshape(x *Node, dimensions ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	numInferred := 0
	for _, dim := range dimensions {
		if dim == -1 {
			numInferred++
		} else if dim <= 0 {
			shapeMismatchf("Reshape", operandShapes(x), "invalid dimension %d in %v", dim, dimensions)
		}
	}
	if numInferred > 1 {
		shapeMismatchf("Reshape", operandShapes(x), "only one dimension can be -1, got %v", dimensions)
	}
	outDims := slices.Clone(dimensions)
	if !x.shape.HasWildcard() {
		var err error
		outDims, err = tensors.ResolveReshapeDims(x.shape.Size(), dimensions)
		if err != nil {
			shapeMismatchf("Reshape", operandShapes(x), "%v", err)
		}
	}
	return newNode(g, NodeTypeReshape, shapes.Make(x.DType(), outDims...), slices.Clone(dimensions), x)
}

// Flatten reshapes x to rank 2, keeping the leading (batch) axis and collapsing all the others.
// Scalars and rank 1 inputs are returned unchanged.
func Flatten(x *Node) *Node {
	if x.Rank() <= 1 {
		return x
	}
	rest := 1
	for _, dim := range x.shape.Dimensions[1:] {
		if dim == shapes.UnknownDim {
			shapeMismatchf("Flatten", operandShapes(x), "only the leading axis can have an unknown dimension")
		}
		rest *= dim
	}
	return Reshape(x, -1, rest)
}

// ExpandDims inserts a new axis of dimension 1 at the given position. Negative axes count from the end,
// -1 meaning after the last axis.
func ExpandDims(x *Node, axis int) *Node {
	rank := x.Rank()
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		shapeMismatchf("ExpandDims", operandShapes(x), "axis %d out-of-range", axis)
	}
	dims := slices.Insert(slices.Clone(x.shape.Dimensions), axis, 1)
	return Reshape(x, dims...)
}

// Squeeze removes the given axis, which must have dimension 1.
func Squeeze(x *Node, axis int) *Node {
	adjusted, err := x.shape.AdjustAxis(axis)
	if err != nil {
		shapeMismatchf("Squeeze", operandShapes(x), "%v", err)
	}
	if x.shape.Dimensions[adjusted] != 1 {
		shapeMismatchf("Squeeze", operandShapes(x), "axis %d has dimension %d, not 1", axis, x.shape.Dimensions[adjusted])
	}
	dims := slices.Delete(slices.Clone(x.shape.Dimensions), adjusted, adjusted+1)
	return Reshape(x, dims...)
}

// reduceOp builds a reduction over the given axes, or all axes if none is given.
func reduceOp(op NodeType, x *Node, axes []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	reducedAxes, outDims, err := kernels.ReduceDims(x.shape.Dimensions, axes)
	if err != nil {
		shapeMismatchf(op.String(), operandShapes(x), "%v", err)
	}
	return newNode(g, op, shapes.Make(x.DType(), outDims...), reducedAxes, x)
}

// ReduceSum sums x over the given axes, which are removed from the result. With no axes it sums everything.
func ReduceSum(x *Node, axes ...int) *Node { return reduceOp(NodeTypeReduceSum, x, axes) }

// ReduceAllSum sums all elements of x, returning a scalar.
func ReduceAllSum(x *Node) *Node { return ReduceSum(x) }

// ReduceMean averages x over the given axes, which are removed from the result. With no axes it averages
// everything.
func ReduceMean(x *Node, axes ...int) *Node { return reduceOp(NodeTypeReduceMean, x, axes) }

// ReduceAllMean averages all elements of x, returning a scalar.
func ReduceAllMean(x *Node) *Node { return ReduceMean(x) }

// Softmax computes the softmax of x over its last axis.
func Softmax(x *Node) *Node {
	if x.Rank() == 0 {
		shapeMismatchf("Softmax", operandShapes(x), "input must have at least one axis")
	}
	return unaryOp(NodeTypeSoftmax, x, nil)
}

type randomNormalParams struct {
	mean, stddev float64
}

func (p randomNormalParams) String() string {
	return fmt.Sprintf("{mean=%g, stddev=%g}", p.mean, p.stddev)
}

// RandomNormalLike returns a tensor shaped like x, with values sampled from a normal distribution with the given
// mean and standard deviation. A new sample is drawn every time the node is evaluated (once per session run).
// It has no gradient. See Graph.SetRandomSeed for reproducibility.
func RandomNormalLike(x *Node, mean, stddev float64) *Node {
	if stddev < 0 {
		exceptions.Panicf("RandomNormalLike: stddev must be >= 0, got %g", stddev)
	}
	return unaryOp(NodeTypeRandomNormal, x, randomNormalParams{mean: mean, stddev: stddev})
}
