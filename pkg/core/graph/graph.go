// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph is the core of the expression-graph engine: it builds computation graphs out of tensor-valued
// nodes, evaluates them forward and propagates gradients backward (reverse-mode automatic differentiation).
//
// The main elements in the package are:
//
//   - Graph: an arena holding all nodes of a computation. Nodes are identified by their NodeId, which is
//     the order of creation. Since a node can only be created from already existing nodes, the ids are a
//     topological order of the DAG, and a graph can never have cycles.
//
//   - Node: represents the result of an operation ("op" for short), or one of the leaves:
//
//   - Constants (Const, ConstTensor, Scalar): immutable values, they absorb gradients.
//
//   - Variables (NewVariable): trainable parameters, with optional L1/L2 regularization, accumulating
//     gradients during the backward pass.
//
//   - Placeholders (Placeholder, Input): inputs bound by the caller to a Session before a run.
//     Their declared shape may have wildcard axes (shapes.UnknownDim), usually the batch axis.
//
//   - Expressions: Add, Sub, Mul, MatMul, Tanh, Sigmoid, ReduceSum, Softmax, etc. Building an expression
//     doesn't compute anything, it only validates the shapes of the operands and records the operation.
//
//   - Session: the execution context. It binds placeholders to tensors, evaluates nodes forward with
//     memoization (a node shared by several consumers is evaluated only once per run) and runs the backward
//     pass, accumulating the gradients of the variables.
//
// ## Error handling
//
// Like in other GoMLX packages, graph building functions panic on errors (e.g., incompatible shapes raise a
// *ShapeMismatchError), since checking for errors at every op would severely impact readability.
// The Session methods, on the other hand, return errors: exceptions raised during the evaluation are caught
// and returned. Use errors.As to recover the typed errors.
//
// ## Concurrency
//
// Graphs, nodes, variables and sessions are not safe for concurrent use: the forward-value cache, the variables'
// gradients and the variables' values are mutated without synchronization. Use one goroutine per graph.
package graph

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Graph holds the nodes of a computation, indexed by their NodeId.
//
// Create it with NewGraph. It is not safe for concurrent use.
type Graph struct {
	name  string
	nodes []*Node

	variables    []*Variable
	placeholders []*Node

	// version is incremented whenever the value of a variable changes, so sessions know their cached
	// forward values are stale.
	version uint64

	traced bool

	rng            *rand.Rand
	defaultSession *Session
}

// NodeId is a unique NodeId within a Graph
type NodeId int

// InvalidNodeId indicates a node that was not registered in a Graph.
const InvalidNodeId = NodeId(-1)

// NewGraph creates an empty graph with the given name, used for logging and error messages.
func NewGraph(name string) *Graph {
	g := &Graph{
		name: name,
		rng:  rand.New(rand.NewPCG(0, 0)),
	}
	klog.V(2).Infof("created graph %q", name)
	return g
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// String implements fmt.Stringer.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph(%q, %d nodes, %d variables, %d placeholders)",
		g.name, len(g.nodes), len(g.variables), len(g.placeholders))
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns the nodes of the graph, in creation (topological) order.
// The returned slice must not be changed.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeById returns the node with the given id. It panics for invalid ids.
func (g *Graph) NodeById(id NodeId) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		exceptions.Panicf("invalid request Graph.NodeById(id=%d): graph %q has only %d nodes", id, g.name, len(g.nodes))
	}
	return g.nodes[id]
}

// Variables returns all variables created in the graph, in creation order.
func (g *Graph) Variables() []*Variable { return g.variables }

// Placeholders returns all placeholder nodes created in the graph, in creation order.
func (g *Graph) Placeholders() []*Node { return g.placeholders }

// SetTraced defines whether each node creation is traced. If true, every node
// will save a stack-trace of where it was created, which is helpful for debugging.
// See Node.Trace().
func (g *Graph) SetTraced(traced bool) {
	g.traced = traced
}

// SetRandomSeed resets the random number generator used by the stochastic ops (e.g. RandomNormalLike).
func (g *Graph) SetRandomSeed(seed uint64) {
	g.rng = rand.New(rand.NewPCG(seed, seed))
}

// Version returns a counter incremented every time the value of a variable of the graph changes.
func (g *Graph) Version() uint64 { return g.version }

// DefaultSession returns the default session of the graph, creating it on first use.
//
// It is the per-graph equivalent of a process-wide session: code that doesn't want to pass a Session around
// can use it, and Session.Finalize on it makes the next call create a new one.
func (g *Graph) DefaultSession() *Session {
	if g.defaultSession == nil {
		g.defaultSession = NewSession(g)
	}
	return g.defaultSession
}

// registerNode in the graph, returning a new unique id within the Graph.
func (g *Graph) registerNode(node *Node) (id NodeId) {
	id = NodeId(len(g.nodes))
	node.id = id
	node.graph = g
	if g.traced {
		node.trace = errors.New("Stack-trace")
	}
	g.nodes = append(g.nodes, node)
	return
}

// validateBuildingGraphFromInputs checks that all inputs are valid and belong to the same graph, and returns
// that Graph.
func validateBuildingGraphFromInputs(inputs ...*Node) (g *Graph) {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes provided, at least one is required")
	}
	for ii, n := range inputs {
		if n == nil {
			exceptions.Panicf("input node #%d is nil", ii)
		}
		if n.graph == nil {
			exceptions.Panicf("input node #%d is not registered in a graph", ii)
		}
		if g == nil {
			g = n.graph
		} else if n.graph != g {
			exceptions.Panicf("combining nodes from different graphs not allowed: input node #%d is part of graph %q, "+
				"but first input is part of graph %q", ii, n.graph.name, g.name)
		}
	}
	return
}

// reachable marks the nodes on which the roots depend (including the roots).
// Inputs always have smaller ids than their consumers, so one pass in decreasing id order is enough.
func (g *Graph) reachable(roots ...*Node) []bool {
	maxId := NodeId(-1)
	for _, root := range roots {
		maxId = max(maxId, root.id)
	}
	marked := make([]bool, maxId+1)
	for _, root := range roots {
		marked[root.id] = true
	}
	for id := maxId; id >= 0; id-- {
		if !marked[id] {
			continue
		}
		for _, input := range g.nodes[id].inputs {
			marked[input.id] = true
		}
	}
	return marked
}

// ReachableVariables returns the variables the given root depends on, in creation order.
func (g *Graph) ReachableVariables(root *Node) []*Variable {
	validateBuildingGraphFromInputs(root)
	if root.graph != g {
		exceptions.Panicf("ReachableVariables: node %s is not part of graph %q", root, g.name)
	}
	marked := g.reachable(root)
	var vars []*Variable
	for _, v := range g.variables {
		if int(v.node.id) < len(marked) && marked[v.node.id] {
			vars = append(vars, v)
		}
	}
	return vars
}

// TrainableVariables returns the trainable variables the given root depends on, in creation order.
func (g *Graph) TrainableVariables(root *Node) []*Variable {
	var vars []*Variable
	for _, v := range g.ReachableVariables(root) {
		if v.trainable {
			vars = append(vars, v)
		}
	}
	return vars
}
