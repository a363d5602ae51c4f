// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/core/tensors/kernels"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// forwardFn computes the value of an expression node from the values of its inputs.
// It panics on errors, which the Session converts to returned errors.
type forwardFn func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor

// forwardRegistration maps each expression NodeType to its forward function. Leaves are handled by the Session.
var forwardRegistration map[NodeType]forwardFn

// unaryFns are the elementwise functions of the parameterless unary ops.
var unaryFns = map[NodeType]func(x float64) float64{
	NodeTypeNeg:      func(x float64) float64 { return -x },
	NodeTypeAbs:      math.Abs,
	NodeTypeSign:     sign,
	NodeTypeExp:      math.Exp,
	NodeTypeLog:      math.Log,
	NodeTypeSqrt:     math.Sqrt,
	NodeTypeTanh:     math.Tanh,
	NodeTypeSigmoid:  sigmoid,
	NodeTypeRelu:     func(x float64) float64 { return max(x, 0) },
	NodeTypeSoftplus: softplus,
	NodeTypeSin:      math.Sin,
	NodeTypeCos:      math.Cos,
}

// binaryFns are the elementwise functions of the binary ops.
var binaryFns = map[NodeType]func(x, y float64) float64{
	NodeTypeAdd: func(x, y float64) float64 { return x + y },
	NodeTypeSub: func(x, y float64) float64 { return x - y },
	NodeTypeMul: func(x, y float64) float64 { return x * y },
	NodeTypeDiv: func(x, y float64) float64 { return x / y },
	NodeTypeMax: math.Max,
	NodeTypeMin: math.Min,
	NodeTypePow: math.Pow,
}

func init() {
	forwardRegistration = map[NodeType]forwardFn{
		NodeTypeLeakyRelu: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			alpha := node.params.(float64)
			return kernels.Map(inputs[0], func(x float64) float64 {
				if x > 0 {
					return x
				}
				return alpha * x
			})
		},
		NodeTypeElu: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			alpha := node.params.(float64)
			return kernels.Map(inputs[0], func(x float64) float64 {
				if x > 0 {
					return x
				}
				return alpha * (math.Exp(x) - 1)
			})
		},
		NodeTypeMatMul: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return checkKernel(node, inputs)(kernels.MatMul(inputs[0], inputs[1]))
		},
		NodeTypeTranspose: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return checkKernel(node, inputs)(kernels.Transpose(inputs[0], node.params.([]int)...))
		},
		NodeTypeReshape: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return checkKernel(node, inputs)(inputs[0].Reshape(node.params.([]int)...))
		},
		NodeTypeReduceSum: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return checkKernel(node, inputs)(kernels.ReduceSum(inputs[0], node.params.([]int)...))
		},
		NodeTypeReduceMean: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			axes := node.params.([]int)
			sum := checkKernel(node, inputs)(kernels.ReduceSum(inputs[0], axes...))
			return kernels.Scale(sum, 1/float64(reducedCount(inputs[0].Shape(), axes)))
		},
		NodeTypeSoftmax: func(_ *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return kernels.Softmax(inputs[0])
		},
		NodeTypeRandomNormal: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			params := node.params.(randomNormalParams)
			rng := node.graph.rng
			return kernels.Map(inputs[0], func(float64) float64 {
				return params.mean + params.stddev*rng.NormFloat64()
			})
		},
		NodeTypeStopGradient: func(_ *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return inputs[0]
		},
		NodeTypeCustom: func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			op := node.params.(*customOp)
			value, err := op.forward(inputs)
			if err != nil {
				panic(errors.WithMessagef(err, "custom op %q", op.name))
			}
			if value == nil {
				exceptions.Panicf("custom op %q returned a nil value", op.name)
			}
			return value
		},
	}
	for op, fn := range unaryFns {
		forwardRegistration[op] = func(_ *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return kernels.Map(inputs[0], fn)
		}
	}
	for op, fn := range binaryFns {
		forwardRegistration[op] = func(node *Node, inputs []*tensors.Tensor) *tensors.Tensor {
			return checkKernel(node, inputs)(kernels.Map2(inputs[0], inputs[1], fn))
		}
	}
}

// checkKernel returns a function that panics with a *ShapeMismatchError if a kernel failed, or returns its
// result otherwise. Kernels only fail on shapes that were not known when the graph was built (wildcard axes).
func checkKernel(node *Node, inputs []*tensors.Tensor) func(t *tensors.Tensor, err error) *tensors.Tensor {
	return func(t *tensors.Tensor, err error) *tensors.Tensor {
		if err != nil {
			inputShapes := make([]shapes.Shape, len(inputs))
			for ii, input := range inputs {
				inputShapes[ii] = input.Shape()
			}
			shapeMismatchf(node.op.String(), inputShapes, "evaluating node #%d: %v", node.id, err)
		}
		return t
	}
}

// reducedCount returns the number of elements reduced into each output element.
func reducedCount(shape shapes.Shape, reducedAxes []int) int {
	count := 1
	for _, axis := range reducedAxes {
		count *= shape.Dimensions[axis]
	}
	return count
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softplus(x float64) float64 {
	return max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}
