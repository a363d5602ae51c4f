// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// constantValue holds the tensor of a constant node. The tensor is shared, never copied.
type constantValue struct {
	tensor *tensors.Tensor
}

// ConstTensor returns a constant node holding the given tensor.
//
// The tensor is shared by reference with the node (and with any session evaluating it): it must not be
// modified afterwards. Clone it first if that's not the case.
func ConstTensor(g *Graph, t *tensors.Tensor) *Node {
	t.AssertValid()
	node := newNode(g, NodeTypeConstant, t.Shape().Clone(), nil)
	node.constant = &constantValue{tensor: t}
	return node
}

// Const creates constant nodes from a float scalar or a multidimensional slice of floats (or a *tensors.Tensor).
// See tensors.FromAnyValue for details.
func Const(g *Graph, value any) *Node {
	return ConstTensor(g, tensors.FromAnyValue(value))
}

// Scalar returns a constant scalar node with the given dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	return ConstTensor(g, tensors.Full(dtype, value))
}

// ConstantValue returns the tensor of a constant node, or nil for other nodes.
func (n *Node) ConstantValue() *tensors.Tensor {
	if n.constant == nil {
		return nil
	}
	return n.constant.tensor
}

// Placeholder creates a new input slot, to be bound to a concrete tensor in a Session before evaluation.
//
// The shape may have wildcard axes (shapes.UnknownDim), matching any dimension of the bound tensor. Names are
// used for error messages and logging only, they don't need to be unique.
func Placeholder(g *Graph, name string, shape shapes.Shape) *Node {
	if !shape.Ok() {
		exceptions.Panicf("Placeholder(%q): invalid shape", name)
	}
	if !tensors.IsSupported(shape.DType) {
		exceptions.Panicf("Placeholder(%q): dtype %s not supported, only Float32 and Float64", name, shape.DType)
	}
	node := newNode(g, NodeTypePlaceholder, shape.Clone(), nil)
	node.placeholderName = name
	g.placeholders = append(g.placeholders, node)
	return node
}

// Input creates a Float32 placeholder with a leading wildcard (batch) axis followed by the given dimensions.
// E.g.: Input(g, 28, 28) accepts tensors shaped [batchSize, 28, 28].
func Input(g *Graph, dimensions ...int) *Node {
	dims := append([]int{shapes.UnknownDim}, dimensions...)
	return Placeholder(g, "input", shapes.Make(dtypes.Float32, dims...))
}
