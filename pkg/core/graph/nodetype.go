// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "fmt"

// NodeType identifies the operation of a node.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota

	// Leaves.
	NodeTypeConstant
	NodeTypeVariable
	NodeTypePlaceholder

	// Binary elementwise, with broadcasting.
	NodeTypeAdd
	NodeTypeSub
	NodeTypeMul
	NodeTypeDiv
	NodeTypeMax
	NodeTypeMin
	NodeTypePow

	// Unary elementwise.
	NodeTypeNeg
	NodeTypeAbs
	NodeTypeSign
	NodeTypeExp
	NodeTypeLog
	NodeTypeSqrt
	NodeTypeTanh
	NodeTypeSigmoid
	NodeTypeRelu
	NodeTypeLeakyRelu
	NodeTypeElu
	NodeTypeSoftplus
	NodeTypeSin
	NodeTypeCos

	NodeTypeMatMul
	NodeTypeTranspose
	NodeTypeReshape
	NodeTypeReduceSum
	NodeTypeReduceMean
	NodeTypeSoftmax
	NodeTypeRandomNormal
	NodeTypeStopGradient
	NodeTypeCustom

	numNodeTypes
)

var nodeTypeNames = [numNodeTypes]string{
	"Invalid", "Constant", "Variable", "Placeholder",
	"Add", "Sub", "Mul", "Div", "Max", "Min", "Pow",
	"Neg", "Abs", "Sign", "Exp", "Log", "Sqrt", "Tanh", "Sigmoid", "Relu", "LeakyRelu", "Elu", "Softplus",
	"Sin", "Cos",
	"MatMul", "Transpose", "Reshape", "ReduceSum", "ReduceMean", "Softmax", "RandomNormal", "StopGradient",
	"Custom",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if t < 0 || t >= numNodeTypes {
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
	return nodeTypeNames[t]
}
