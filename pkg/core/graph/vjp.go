// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/core/tensors/kernels"
	"github.com/pkg/errors"
)

// VJP returns the $v \dot Jacobian$ of the given `node`, with respect to each of its inputs (given
// by `node.Inputs()`).
//
// Args:
//   - node: the node being differentiated.
//   - v: the gradient of the root with respect to the node's output (the adjoint), shaped like output.
//   - output: the value of the node computed in the forward pass.
//   - inputs: the values of the node's inputs computed in the forward pass.
//
// It returns one gradient per input, shaped like the input value; entries can be nil for inputs that receive
// no gradient. Errors are raised with panics.
type VJP func(node *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor

// VJPRegistration maps each expression NodeType to its VJP function.
// Node types not registered (e.g. Sign, RandomNormal, StopGradient) don't propagate gradients.
var VJPRegistration map[NodeType]VJP

func init() {
	VJPRegistration = map[NodeType]VJP{
		NodeTypeAdd:       addVJP,
		NodeTypeSub:       subVJP,
		NodeTypeMul:       mulVJP,
		NodeTypeDiv:       divVJP,
		NodeTypeMax:       maxMinVJP,
		NodeTypeMin:       maxMinVJP,
		NodeTypePow:       powVJP,
		NodeTypeNeg:       negVJP,
		NodeTypeAbs:       absVJP,
		NodeTypeExp:       expVJP,
		NodeTypeLog:       logVJP,
		NodeTypeSqrt:      sqrtVJP,
		NodeTypeTanh:      tanhVJP,
		NodeTypeSigmoid:   sigmoidVJP,
		NodeTypeRelu:      reluVJP,
		NodeTypeLeakyRelu: leakyReluVJP,
		NodeTypeElu:       eluVJP,
		NodeTypeSoftplus:  softplusVJP,
		NodeTypeSin:       sinVJP,
		NodeTypeCos:       cosVJP,
		NodeTypeMatMul:    matMulVJP,
		NodeTypeTranspose: transposeVJP,
		NodeTypeReshape:   reshapeVJP,
		NodeTypeReduceSum: reduceSumVJP,
		NodeTypeReduceMean: func(node *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
			grads := reduceSumVJP(node, v, output, inputs)
			count := reducedCount(inputs[0].Shape(), node.params.([]int))
			return []*tensors.Tensor{kernels.Scale(grads[0], 1/float64(count))}
		},
		NodeTypeSoftmax: softmaxVJP,
		NodeTypeCustom:  customVJP,
	}
}

// check panics if err != nil, or returns t.
func check(t *tensors.Tensor, err error) *tensors.Tensor {
	if err != nil {
		panic(errors.WithStack(err))
	}
	return t
}

// sumTo folds the gradient into the shape of the input value, summing over broadcast axes.
func sumTo(grad, input *tensors.Tensor) *tensors.Tensor {
	return check(kernels.SumToShape(grad, input.Shape().Dimensions))
}

func addVJP(_ *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{sumTo(v, inputs[0]), sumTo(v, inputs[1])}
}

func subVJP(_ *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{sumTo(v, inputs[0]), sumTo(kernels.Neg(v), inputs[1])}
}

func mulVJP(_ *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	a, b := inputs[0], inputs[1]
	return []*tensors.Tensor{
		sumTo(check(kernels.Mul(v, b)), a),
		sumTo(check(kernels.Mul(v, a)), b),
	}
}

func divVJP(_ *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	a, b := inputs[0], inputs[1]
	return []*tensors.Tensor{
		sumTo(check(kernels.Div(v, b)), a),
		sumTo(check(kernels.Map3(v, a, b, func(v, a, b float64) float64 { return -v * a / (b * b) })), b),
	}
}

func maxMinVJP(node *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	a, b := inputs[0], inputs[1]
	selectsLhs := func(a, b float64) bool { return a >= b }
	if node.op == NodeTypeMin {
		selectsLhs = func(a, b float64) bool { return a <= b }
	}
	gradA := check(kernels.Map3(v, a, b, func(v, a, b float64) float64 {
		if selectsLhs(a, b) {
			return v
		}
		return 0
	}))
	gradB := check(kernels.Map3(v, a, b, func(v, a, b float64) float64 {
		if selectsLhs(a, b) {
			return 0
		}
		return v
	}))
	return []*tensors.Tensor{sumTo(gradA, a), sumTo(gradB, b)}
}

func powVJP(_ *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	a, b := inputs[0], inputs[1]
	gradA := check(kernels.Map3(v, a, b, func(v, a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return v * b * math.Pow(a, b-1)
	}))
	gradB := check(kernels.Map3(v, output, a, func(v, out, a float64) float64 {
		if a <= 0 {
			// d(a^b)/db is only defined for a > 0.
			return 0
		}
		return v * out * math.Log(a)
	}))
	return []*tensors.Tensor{sumTo(gradA, a), sumTo(gradB, b)}
}

// elementwiseVJP builds the VJP of a unary elementwise op, given the local derivative as a function of the
// input x and the output y.
func elementwiseVJP(derivative func(x, y float64) float64) VJP {
	return func(_ *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{check(kernels.Map3(v, inputs[0], output, func(v, x, y float64) float64 {
			return v * derivative(x, y)
		}))}
	}
}

var (
	negVJP  = elementwiseVJP(func(_, _ float64) float64 { return -1 })
	absVJP  = elementwiseVJP(func(x, _ float64) float64 { return sign(x) })
	expVJP  = elementwiseVJP(func(_, y float64) float64 { return y })
	logVJP  = elementwiseVJP(func(x, _ float64) float64 { return 1 / x })
	sqrtVJP = elementwiseVJP(func(_, y float64) float64 { return 0.5 / y })
	tanhVJP = elementwiseVJP(func(_, y float64) float64 { return 1 - y*y })
	sinVJP  = elementwiseVJP(func(x, _ float64) float64 { return math.Cos(x) })
	cosVJP  = elementwiseVJP(func(x, _ float64) float64 { return -math.Sin(x) })
	reluVJP = elementwiseVJP(func(x, _ float64) float64 {
		if x > 0 {
			return 1
		}
		return 0
	})
	sigmoidVJP  = elementwiseVJP(func(_, y float64) float64 { return y * (1 - y) })
	softplusVJP = elementwiseVJP(func(x, _ float64) float64 { return sigmoid(x) })
)

func leakyReluVJP(node *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	alpha := node.params.(float64)
	return elementwiseVJP(func(x, _ float64) float64 {
		if x > 0 {
			return 1
		}
		return alpha
	})(node, v, output, inputs)
}

func eluVJP(node *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	alpha := node.params.(float64)
	return elementwiseVJP(func(x, y float64) float64 {
		if x > 0 {
			return 1
		}
		return y + alpha
	})(node, v, output, inputs)
}

func matMulVJP(_ *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	a, b := inputs[0], inputs[1]
	switch {
	case a.Rank() == 2 && b.Rank() == 2:
		// dA = v·Bᵀ, dB = Aᵀ·v
		return []*tensors.Tensor{
			check(kernels.MatMul(v, check(kernels.Transpose(b)))),
			check(kernels.MatMul(check(kernels.Transpose(a)), v)),
		}
	case a.Rank() == 3 && b.Rank() == 2:
		// The batch axis is folded into the rows for dB.
		aDims, vDims := a.Shape().Dimensions, v.Shape().Dimensions
		flatA := check(a.Reshape(aDims[0]*aDims[1], aDims[2]))
		flatV := check(v.Reshape(vDims[0]*vDims[1], vDims[2]))
		return []*tensors.Tensor{
			check(kernels.MatMul(v, check(kernels.Transpose(b)))),
			check(kernels.MatMul(check(kernels.Transpose(flatA)), flatV)),
		}
	default:
		// Batched: [batch, m, k] x [batch, k, n].
		return []*tensors.Tensor{
			check(kernels.MatMul(v, check(kernels.Transpose(b, 0, 2, 1)))),
			check(kernels.MatMul(check(kernels.Transpose(a, 0, 2, 1)), v)),
		}
	}
}

func transposeVJP(node *Node, v, _ *tensors.Tensor, _ []*tensors.Tensor) []*tensors.Tensor {
	inverse := kernels.InversePermutation(node.params.([]int))
	return []*tensors.Tensor{check(kernels.Transpose(v, inverse...))}
}

func reshapeVJP(_ *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{check(v.Reshape(inputs[0].Shape().Dimensions...))}
}

func reduceSumVJP(node *Node, v, _ *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	inputDims := inputs[0].Shape().Dimensions
	keepDims := kernels.KeepDims(inputDims, node.params.([]int))
	expanded := check(v.Reshape(keepDims...))
	return []*tensors.Tensor{check(kernels.BroadcastTo(expanded, inputDims))}
}

func softmaxVJP(_ *Node, v, output *tensors.Tensor, _ []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{check(kernels.SoftmaxBackward(output, v))}
}

func customVJP(node *Node, v, output *tensors.Tensor, inputs []*tensors.Tensor) []*tensors.Tensor {
	op := node.params.(*customOp)
	if op.vjp == nil {
		return make([]*tensors.Tensor, len(inputs))
	}
	grads, err := op.vjp(v, output, inputs)
	if err != nil {
		panic(errors.WithMessagef(err, "gradient of custom op %q", op.name))
	}
	return grads
}
