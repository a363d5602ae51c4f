// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

// CustomForwardFn computes the value of a custom op from the values of its inputs.
type CustomForwardFn func(inputs []*tensors.Tensor) (*tensors.Tensor, error)

// CustomVJPFn returns the gradient with respect to each of the inputs of a custom op, given the gradient v with
// respect to its output. Entries can be nil for inputs that receive no gradient.
type CustomVJPFn func(v, output *tensors.Tensor, inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

type customOp struct {
	name    string
	forward CustomForwardFn
	vjp     CustomVJPFn
}

// CustomOp creates a node evaluated by a user-provided function: it's the way to plug in kernels not provided
// by this package (e.g. convolutions).
//
// The outputShape may have wildcard axes, the value computed must match it. If vjp is nil, no gradient flows
// through the node.
func CustomOp(name string, inputs []*Node, outputShape shapes.Shape, forward CustomForwardFn, vjp CustomVJPFn) *Node {
	g := validateBuildingGraphFromInputs(inputs...)
	if forward == nil {
		exceptions.Panicf("CustomOp(%q): forward function is required", name)
	}
	if !tensors.IsSupported(outputShape.DType) {
		exceptions.Panicf("CustomOp(%q): output dtype %s not supported", name, outputShape.DType)
	}
	params := &customOp{name: name, forward: forward, vjp: vjp}
	return newNode(g, NodeTypeCustom, outputShape.Clone(), params, inputs...)
}
