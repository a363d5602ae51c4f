// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Session is the execution context of a Graph: it owns the tensors bound to the placeholders and the cache of
// forward values of the current "generation".
//
// Each call to Run (or RunMany) starts a new generation: the nodes the roots depend on are evaluated in
// topological order, each at most once, even if they are shared by many consumers. Backward reuses the
// values of the current generation, if they are still valid (no new binding and no change of any variable
// value since), otherwise it runs the forward pass again.
//
// A Session is not safe for concurrent use.
type Session struct {
	id    uuid.UUID
	graph *Graph

	bindings map[NodeId]*tensors.Tensor

	// values and generations are indexed by NodeId: values[id] is valid if generations[id] == generation.
	values      []*tensors.Tensor
	generations []uint64
	generation  uint64

	// cacheValid is false after a new binding; graphVersion is the Graph.version when the cache was filled.
	cacheValid   bool
	graphVersion uint64

	// evaluating is the node being evaluated, for error reporting.
	evaluating *Node

	stats          SessionStats
	warningHandler WarningHandler
	loggerFn       LoggerFn
	finalized      bool
}

// SessionStats are counters of the work done by a Session.
type SessionStats struct {
	// Runs is the number of forward passes (generations), including the ones triggered by Backward.
	Runs int

	// Backwards is the number of backward passes, and Steps the number of updaters run with Session.Step.
	Backwards, Steps int

	// LastEvaluated is the number of nodes evaluated in the last forward pass.
	LastEvaluated int

	// TotalEvaluations is the number of node evaluations over the lifetime of the session.
	TotalEvaluations int
}

// WarningHandler receives the non-fatal numerical instability warnings of a Session.
type WarningHandler func(warning *NumericalInstabilityWarning)

// LoggerFn is called with the value of every node marked with Node.SetLogged, after it is evaluated.
type LoggerFn func(node *Node, value *tensors.Tensor)

// Updater is implemented by optimizers: Session.Step(updater) is the "run" of an updater, the same way
// Session.Run is the run of a node.
type Updater interface {
	Update(session *Session) error
}

// DefaultWarningHandler logs the warning with klog.
func DefaultWarningHandler(warning *NumericalInstabilityWarning) {
	klog.Warningf("%v", warning)
}

// DefaultLoggerFn logs the value of the node with klog.
func DefaultLoggerFn(node *Node, value *tensors.Tensor) {
	klog.Infof("%s: %s", node.LogMessage(), value)
}

// NewSession creates a session to evaluate nodes of the graph g.
func NewSession(g *Graph) *Session {
	s := &Session{
		id:             uuid.New(),
		graph:          g,
		bindings:       make(map[NodeId]*tensors.Tensor),
		warningHandler: DefaultWarningHandler,
		loggerFn:       DefaultLoggerFn,
	}
	klog.V(1).Infof("session %s created for graph %q", s.id, g.name)
	return s
}

// ID returns the unique id of the session, used in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Graph of the session.
func (s *Session) Graph() *Graph { return s.graph }

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("Session(%s, graph=%q, generation=%d)", s.id, s.graph.name, s.generation)
}

// Generation returns the counter of forward passes, incremented by every Run.
func (s *Session) Generation() uint64 { return s.generation }

// Stats returns the counters of the session.
func (s *Session) Stats() SessionStats { return s.stats }

// SetWarningHandler sets the handler of numerical instability warnings. A nil handler disables the checks.
// The default is DefaultWarningHandler.
func (s *Session) SetWarningHandler(handler WarningHandler) *Session {
	s.warningHandler = handler
	return s
}

// SetLogger sets the function called for nodes marked with Node.SetLogged. A nil logger disables logging.
// The default is DefaultLoggerFn.
func (s *Session) SetLogger(loggerFn LoggerFn) *Session {
	s.loggerFn = loggerFn
	return s
}

// Finalize releases the bindings and cached values. The session can't be used afterwards.
// If it is the default session of its graph, the next Graph.DefaultSession call creates a new one.
func (s *Session) Finalize() {
	s.bindings = nil
	s.values = nil
	s.generations = nil
	s.cacheValid = false
	s.finalized = true
	if s.graph.defaultSession == s {
		s.graph.defaultSession = nil
	}
	klog.V(1).Infof("session %s finalized", s.id)
}

func (s *Session) checkNode(node *Node) {
	if s.finalized {
		exceptions.Panicf("session %s was finalized", s.id)
	}
	node.AssertValid()
	if node.graph != s.graph {
		exceptions.Panicf("node %s is part of graph %q, but session %s is for graph %q",
			node, node.graph.name, s.id, s.graph.name)
	}
}

// Bind sets the tensor of a placeholder, replacing any previous binding. The tensor must match the shape
// declared for the placeholder, wildcard axes (shapes.UnknownDim) matching any dimension, otherwise a
// *ShapeMismatchError is returned.
//
// The tensor is used by reference, it must not be modified while bound.
// Binding invalidates the cached forward values.
func (s *Session) Bind(placeholder *Node, value *tensors.Tensor) error {
	return exceptions.TryCatch[error](func() {
		s.checkNode(placeholder)
		if placeholder.op != NodeTypePlaceholder {
			exceptions.Panicf("Session.Bind: node %s is not a placeholder", placeholder)
		}
		if !value.Ok() {
			exceptions.Panicf("Session.Bind(%q): invalid tensor", placeholder.placeholderName)
		}
		if err := placeholder.shape.CheckMatches(value.Shape()); err != nil {
			shapeMismatchf("Bind", []shapes.Shape{placeholder.shape, value.Shape()},
				"placeholder %q: %v", placeholder.placeholderName, err)
		}
		s.bindings[placeholder.id] = value
		s.cacheValid = false
	})
}

// Binding returns the tensor bound to the placeholder, or nil.
func (s *Session) Binding(placeholder *Node) *tensors.Tensor {
	return s.bindings[placeholder.id]
}

// Run evaluates the node, and returns its value. It starts a new generation: every node it depends on is
// evaluated at most once. The returned tensor must not be modified.
//
// Errors raised during the evaluation (e.g. *UnboundInputError, *ShapeMismatchError for shapes only known
// at evaluation time) are returned.
func (s *Session) Run(node *Node) (*tensors.Tensor, error) {
	values, err := s.RunMany(node)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// MustRun is like Run, but panics on errors.
func (s *Session) MustRun(node *Node) *tensors.Tensor {
	value, err := s.Run(node)
	if err != nil {
		panic(err)
	}
	return value
}

// RunMany evaluates all the nodes in one generation, sharing the evaluation of common dependencies.
func (s *Session) RunMany(nodes ...*Node) (values []*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		if len(nodes) == 0 {
			exceptions.Panicf("Session.RunMany: no nodes given")
		}
		for _, node := range nodes {
			s.checkNode(node)
		}
		values = s.forward(nodes)
	})
	if err != nil {
		err = s.annotateError(err, "Session.Run")
		return nil, err
	}
	return values, nil
}

// annotateError adds the context of the node being evaluated (and its creation stack-trace, if the graph is
// traced) to an error.
func (s *Session) annotateError(err error, method string) error {
	s.cacheValid = false
	node := s.evaluating
	s.evaluating = nil
	if node == nil {
		return errors.WithMessagef(err, "%s in graph %q", method, s.graph.name)
	}
	if node.trace != nil {
		return errors.WithMessagef(err, "%s in graph %q, while evaluating %s created at:\n%+v",
			method, s.graph.name, node, node.trace)
	}
	return errors.WithMessagef(err, "%s in graph %q, while evaluating %s", method, s.graph.name, node)
}

// growCache makes sure the cache has room for all nodes of the graph, which may have grown.
func (s *Session) growCache() {
	numNodes := s.graph.NumNodes()
	if len(s.values) < numNodes {
		s.values = append(s.values, make([]*tensors.Tensor, numNodes-len(s.values))...)
		s.generations = append(s.generations, make([]uint64, numNodes-len(s.generations))...)
	}
}

// forward starts a new generation and evaluates the roots. It panics on errors.
func (s *Session) forward(roots []*Node) []*tensors.Tensor {
	g := s.graph
	s.growCache()
	s.generation++
	s.cacheValid = false
	marked := g.reachable(roots...)
	evaluated := 0
	for id, isMarked := range marked {
		if !isMarked || s.generations[id] == s.generation {
			continue
		}
		node := g.nodes[id]
		s.evaluating = node
		s.values[id] = s.evaluateNode(node)
		s.generations[id] = s.generation
		evaluated++
	}
	s.evaluating = nil
	s.cacheValid = true
	s.graphVersion = g.version
	s.stats.Runs++
	s.stats.LastEvaluated = evaluated
	s.stats.TotalEvaluations += evaluated
	if klog.V(2).Enabled() {
		klog.Infof("session %s: generation %d evaluated %d nodes", s.id, s.generation, evaluated)
	}

	if s.loggerFn != nil {
		for id, isMarked := range marked {
			if isMarked && g.nodes[id].IsLogged() {
				s.loggerFn(g.nodes[id], s.values[id])
			}
		}
	}

	values := make([]*tensors.Tensor, len(roots))
	for ii, root := range roots {
		values[ii] = s.values[root.id]
	}
	if s.warningHandler != nil {
		for _, root := range roots {
			if s.values[root.id].HasNonFinite() {
				s.warnForward(marked)
				break
			}
		}
	}
	return values
}

// evaluateNode computes the value of one node, assuming the values of its inputs are in the cache.
func (s *Session) evaluateNode(node *Node) *tensors.Tensor {
	switch node.op {
	case NodeTypeConstant:
		return node.constant.tensor
	case NodeTypeVariable:
		return node.variable.value
	case NodeTypePlaceholder:
		value, found := s.bindings[node.id]
		if !found {
			panic(errors.WithStack(&UnboundInputError{Name: node.placeholderName, Shape: node.shape}))
		}
		return value
	}
	fn, found := forwardRegistration[node.op]
	if !found {
		exceptions.Panicf("no forward evaluation defined for node type %s", node.op)
	}
	inputs := make([]*tensors.Tensor, len(node.inputs))
	for ii, input := range node.inputs {
		inputs[ii] = s.values[input.id]
	}
	value := fn(node, inputs)
	if err := node.shape.CheckMatches(value.Shape()); err != nil {
		shapeMismatchf(node.op.String(), []shapes.Shape{node.shape, value.Shape()},
			"value computed for node #%d doesn't match its shape: %v", node.id, err)
	}
	return value
}

// isCurrent returns whether the cached value of the node is valid.
func (s *Session) isCurrent(node *Node) bool {
	return s.cacheValid && s.graphVersion == s.graph.version &&
		int(node.id) < len(s.generations) && s.generations[node.id] == s.generation
}

// Value returns the value of the node computed in the current generation, if it is still valid.
func (s *Session) Value(node *Node) (*tensors.Tensor, bool) {
	if !s.isCurrent(node) {
		return nil, false
	}
	return s.values[node.id], true
}

// warnForward reports the first node, in evaluation order, with a non-finite value.
func (s *Session) warnForward(marked []bool) {
	for id, isMarked := range marked {
		if !isMarked {
			continue
		}
		numNaN, numInf := s.values[id].CountNonFinite()
		if numNaN+numInf > 0 {
			s.warningHandler(&NumericalInstabilityWarning{
				Where:  "forward",
				Node:   s.graph.nodes[id],
				NumNaN: numNaN,
				NumInf: numInf,
			})
			return
		}
	}
}

// Step runs the updater (usually an optimizer) on this session.
func (s *Session) Step(updater Updater) error {
	if s.finalized {
		return errors.Errorf("Session.Step: session %s was finalized", s.id)
	}
	s.stats.Steps++
	if err := updater.Update(s); err != nil {
		return errors.WithMessagef(err, "Session.Step in graph %q", s.graph.name)
	}
	return nil
}
