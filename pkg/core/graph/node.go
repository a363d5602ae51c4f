// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Node represents the result of an operation in the computation graph, or one of its leaves (constants,
// variables and placeholders).
//
// Nodes are created by the graph building functions (Add, MatMul, Tanh, ...), never directly. They are
// immutable after creation, except for the logging flag.
type Node struct {
	graph *Graph
	id    NodeId
	shape shapes.Shape
	op    NodeType

	// inputs are the edges of the computation graph.
	inputs []*Node

	// params holds the static parameters of the operation, e.g.: axes for ReduceSum, the permutation for
	// Transpose. The type depends on the op.
	params any

	// Leaves payload.
	constant        *constantValue
	variable        *Variable
	placeholderName string

	// logMessage is set if node is marked for logging.
	logMessage string

	trace error // Stack-trace error of where Node was created. Stored if graph.traced is true.
}

// newNode creates and registers a new node in the graph of its inputs.
func newNode(g *Graph, op NodeType, shape shapes.Shape, params any, inputs ...*Node) *Node {
	node := &Node{
		shape:  shape,
		op:     op,
		inputs: inputs,
		params: params,
	}
	g.registerNode(node)
	return node
}

// Type identify the operation performed by the node.
func (n *Node) Type() NodeType {
	if n == nil {
		return NodeTypeInvalid
	}
	return n.op
}

// Graph the node belongs to.
func (n *Node) Graph() *Graph {
	n.AssertValid()
	return n.graph
}

// Shape of the Node's output. Axes of dimension shapes.UnknownDim are only known when evaluated.
func (n *Node) Shape() shapes.Shape {
	if n == nil {
		return shapes.Invalid()
	}
	return n.shape
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType {
	return n.shape.DType
}

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int {
	return n.shape.Rank()
}

// IsScalar returns whether the node's shape is a scalar.
func (n *Node) IsScalar() bool {
	return n.shape.IsScalar()
}

// Id is the unique id of this node within the Graph. It's also its position in the topological order.
func (n *Node) Id() NodeId {
	return n.id
}

// Inputs are the other nodes that are direct inputs to the node.
// This doesn't include static parameters of some operations (e.g. the axes of a reduction).
func (n *Node) Inputs() []*Node { return n.inputs }

// AssertValid panics if `n` is nil, or if it is not registered in a graph.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	if n.graph == nil || n.op == NodeTypeInvalid {
		exceptions.Panicf("Node in an invalid state")
	}
}

// Variable returns the variable of a NodeTypeVariable node, or nil for any other node.
func (n *Node) Variable() *Variable {
	return n.variable
}

// IsLeaf returns whether the node is a constant, a variable or a placeholder.
func (n *Node) IsLeaf() bool {
	switch n.op {
	case NodeTypeConstant, NodeTypeVariable, NodeTypePlaceholder:
		return true
	}
	return false
}

// PlaceholderName returns the name of a placeholder node, or "" for any other node.
func (n *Node) PlaceholderName() string {
	return n.placeholderName
}

// SetLogged indicates that a node should be logged by sessions, after every run where it is evaluated.
func (n *Node) SetLogged(message string) {
	n.logMessage = message
}

// SetLoggedf is like SetLogged, but formats the message.
func (n *Node) SetLoggedf(format string, args ...any) {
	n.SetLogged(fmt.Sprintf(format, args...))
}

// IsLogged returns whether node is marked to be logged.
func (n *Node) IsLogged() bool {
	return n.logMessage != ""
}

// LogMessage associated with node, if any.
func (n *Node) LogMessage() string {
	return n.logMessage
}

// Trace returns stack-trace in form of an error, of when the node was created.
// Only available if enabled by `Graph.SetTraced(true)`.
func (n *Node) Trace() error {
	return n.trace
}

// String implements the `fmt.Stringer` interface.
// Logged nodes are marked with [Logged].
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	if n.graph == nil {
		return "Node(invalid)"
	}
	var desc string
	switch n.op {
	case NodeTypeVariable:
		desc = fmt.Sprintf("Variable(%q)", n.variable.name)
	case NodeTypePlaceholder:
		desc = fmt.Sprintf("Placeholder(%q)", n.placeholderName)
	case NodeTypeCustom:
		desc = fmt.Sprintf("Custom(%q)", n.params.(*customOp).name)
	default:
		inputIds := make([]string, len(n.inputs))
		for ii, input := range n.inputs {
			inputIds[ii] = fmt.Sprintf("#%d", input.id)
		}
		desc = fmt.Sprintf("%s(%s)", n.op, strings.Join(inputIds, ", "))
		if n.params != nil {
			desc = fmt.Sprintf("%s%v", desc, n.params)
		}
	}
	str := fmt.Sprintf("#%d %s -> %s", n.id, desc, n.shape)
	if n.logMessage != "" {
		str += " [Logged]"
	}
	return str
}
