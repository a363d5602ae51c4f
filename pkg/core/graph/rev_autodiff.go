// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/core/tensors/kernels"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backward computes the gradient of root with respect to every trainable variable root depends on, and stores
// it in the variables' gradient accumulators (see Variable.Gradient), which are reset first.
//
// The seed is the gradient with respect to root itself: if nil, it is all ones (so for a scalar loss the
// result is the plain gradient). A scalar seed is broadcast to root's shape, otherwise it must have root's
// shape.
//
// The forward values of the current generation are reused if they are still valid, otherwise root is
// evaluated again. Gradients of variables shared by many consumers are summed, and the regularization terms
// (L1/L2) of each variable are added once.
func (s *Session) Backward(root *Node, seed *tensors.Tensor) error {
	err := exceptions.TryCatch[error](func() {
		s.checkNode(root)
		s.backward(root, seed)
	})
	if err != nil {
		return s.annotateError(err, "Session.Backward")
	}
	return nil
}

// seedFor returns the initial adjoint of the root, given its value.
func seedFor(root *Node, rootValue, seed *tensors.Tensor) *tensors.Tensor {
	switch {
	case seed == nil:
		return tensors.OnesLike(rootValue)
	case seed.IsScalar():
		return tensors.FullLike(rootValue, seed.FlatAt(0))
	case seed.Shape().EqualDimensions(rootValue.Shape()):
		if seed.DType() == rootValue.DType() {
			return seed
		}
		converted := tensors.ZerosLike(rootValue)
		tensors.AssignFlatData(converted, seed.Float64s())
		return converted
	}
	shapeMismatchf("Backward", []shapes.Shape{rootValue.Shape(), seed.Shape()},
		"seed for %s must be a scalar or have the same shape as the value of the root", root)
	return nil
}

func (s *Session) backward(root *Node, seed *tensors.Tensor) {
	g := s.graph
	if !s.isCurrent(root) {
		klog.V(2).Infof("session %s: forward values for %s are stale, re-evaluating", s.id, root)
		s.forward([]*Node{root})
	}
	s.evaluating = nil
	marked := g.reachable(root)
	for _, v := range g.variables {
		if int(v.node.id) < len(marked) && marked[v.node.id] {
			v.ZeroGradient()
		}
	}

	// needsGrad marks the nodes through which some trainable variable can be reached.
	needsGrad := make([]bool, len(marked))
	for id, isMarked := range marked {
		if !isMarked {
			continue
		}
		node := g.nodes[id]
		switch node.op {
		case NodeTypeVariable:
			needsGrad[id] = node.variable.trainable
		case NodeTypeConstant, NodeTypePlaceholder:
		default:
			if _, found := VJPRegistration[node.op]; !found {
				continue
			}
			if node.op == NodeTypeCustom && node.params.(*customOp).vjp == nil {
				continue
			}
			for _, input := range node.inputs {
				if needsGrad[input.id] {
					needsGrad[id] = true
					break
				}
			}
		}
	}

	adjoints := make([]*tensors.Tensor, len(marked))
	adjoints[root.id] = seedFor(root, s.values[root.id], seed)
	for id := int(root.id); id >= 0; id-- {
		adjoint := adjoints[id]
		if !marked[id] || !needsGrad[id] || adjoint == nil {
			continue
		}
		adjoints[id] = nil
		node := g.nodes[id]
		s.evaluating = node
		if node.op == NodeTypeVariable {
			node.variable.accumulate(adjoint)
			continue
		}
		inputs := make([]*tensors.Tensor, len(node.inputs))
		for ii, input := range node.inputs {
			inputs[ii] = s.values[input.id]
		}
		grads := VJPRegistration[node.op](node, adjoint, s.values[id], inputs)
		if len(grads) != len(inputs) {
			exceptions.Panicf("gradient of %s returned %d values, but the node has %d inputs",
				node, len(grads), len(inputs))
		}
		for ii, input := range node.inputs {
			grad := grads[ii]
			if grad == nil || !needsGrad[input.id] {
				continue
			}
			if !grad.Shape().Equal(inputs[ii].Shape()) {
				shapeMismatchf(node.op.String(), []shapes.Shape{inputs[ii].Shape(), grad.Shape()},
					"gradient of input #%d of %s doesn't match the input's shape", ii, node)
			}
			if adjoints[input.id] == nil {
				adjoints[input.id] = grad
			} else {
				// Adjoints may be shared with other nodes, so they are never modified in place.
				sum, err := kernels.Add(adjoints[input.id], grad)
				if err != nil {
					panic(errors.WithMessagef(err, "summing gradients of %s", input))
				}
				adjoints[input.id] = sum
			}
		}
	}
	s.evaluating = nil
	s.stats.Backwards++

	if s.warningHandler != nil {
		for _, v := range g.variables {
			if !v.trainable || int(v.node.id) >= len(marked) || !marked[v.node.id] {
				continue
			}
			numNaN, numInf := v.gradient.CountNonFinite()
			if numNaN+numInf > 0 {
				s.warningHandler(&NumericalInstabilityWarning{
					Where:    "backward",
					Variable: v,
					NumNaN:   numNaN,
					NumInf:   numInf,
				})
			}
		}
	}
}
