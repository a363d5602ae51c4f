// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/core/tensors/kernels"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Variable is a parameter of the model: it holds a value that persists across sessions' runs, and the gradient
// accumulated for it during the last backward pass.
//
// The value is only changed by SetValue or Update, usually called by an optimizer, never by forward or backward
// evaluation. Variables are created with NewVariable, which returns the node that represents them in the graph.
type Variable struct {
	name      string
	node      *Node
	value     *tensors.Tensor
	gradient  *tensors.Tensor
	l1, l2    float64
	trainable bool
}

// VariableOption configures a variable created with NewVariable.
type VariableOption func(v *Variable)

// WithL1 sets the L1 regularization coefficient: l1*sign(value) is added to the gradient in every backward pass.
func WithL1(l1 float64) VariableOption {
	return func(v *Variable) { v.l1 = l1 }
}

// WithL2 sets the L2 regularization coefficient: l2*value is added to the gradient in every backward pass.
func WithL2(l2 float64) VariableOption {
	return func(v *Variable) { v.l2 = l2 }
}

// WithTrainable sets whether the variable is trainable (the default). Non-trainable variables accumulate no
// gradient and are skipped by the optimizers.
func WithTrainable(trainable bool) VariableOption {
	return func(v *Variable) { v.trainable = trainable }
}

// NewVariable creates a variable with the given initial value and returns its node.
// The variable takes ownership of the initial tensor. Use Node.Variable to access the variable.
func NewVariable(g *Graph, name string, initial *tensors.Tensor, options ...VariableOption) *Node {
	initial.AssertValid()
	v := &Variable{
		name:      name,
		value:     initial,
		gradient:  tensors.ZerosLike(initial),
		trainable: true,
	}
	for _, option := range options {
		option(v)
	}
	if v.l1 < 0 || v.l2 < 0 {
		exceptions.Panicf("NewVariable(%q): regularization coefficients must be >= 0, got l1=%g, l2=%g", name, v.l1, v.l2)
	}
	node := newNode(g, NodeTypeVariable, initial.Shape().Clone(), nil)
	node.variable = v
	v.node = node
	g.variables = append(g.variables, v)
	return node
}

// Name of the variable.
func (v *Variable) Name() string { return v.name }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return fmt.Sprintf("Variable(%q, %s)", v.name, v.value.Shape())
}

// Node returns the node representing the variable in the graph.
func (v *Variable) Node() *Node { return v.node }

// Shape of the variable, it never changes.
func (v *Variable) Shape() shapes.Shape { return v.node.shape }

// Value returns the current value of the variable. It must not be modified directly, use Update instead.
func (v *Variable) Value() *tensors.Tensor { return v.value }

// Gradient returns the gradient accumulated for the variable during the last backward pass.
func (v *Variable) Gradient() *tensors.Tensor { return v.gradient }

// L1 regularization coefficient.
func (v *Variable) L1() float64 { return v.l1 }

// L2 regularization coefficient.
func (v *Variable) L2() float64 { return v.l2 }

// Trainable returns whether the variable is updated by optimizers.
func (v *Variable) Trainable() bool { return v.trainable }

// SetTrainable changes whether the variable is trainable.
func (v *Variable) SetTrainable(trainable bool) { v.trainable = trainable }

// SetValue replaces the value of the variable. The shape must be the same.
// Sessions' cached forward values are invalidated.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	value.AssertValid()
	if !value.Shape().Equal(v.Shape()) {
		return errors.WithStack(&ShapeMismatchError{
			Op:     "Variable.SetValue",
			Shapes: []shapes.Shape{v.Shape(), value.Shape()},
			Reason: fmt.Sprintf("variable %q shape cannot change", v.name),
		})
	}
	v.value = value
	v.node.graph.version++
	return nil
}

// Update calls updateFn with a copy of the value of the variable, which can be changed in place, and then
// makes it the new value, invalidating the sessions' cached forward values. This is what optimizers use.
//
// Tensors previously returned by Session.Run (or Variable.Value) keep the old value.
func (v *Variable) Update(updateFn func(value *tensors.Tensor)) {
	value := v.value.Clone()
	updateFn(value)
	v.value = value
	v.node.graph.version++
}

// ZeroGradient resets the accumulated gradient to zero.
func (v *Variable) ZeroGradient() {
	v.gradient.Fill(0)
}

// accumulate adds the gradient arriving at the variable (already summed over all its consumers) plus the
// regularization terms into the gradient accumulator. It is a no-op for non-trainable variables.
func (v *Variable) accumulate(grad *tensors.Tensor) {
	if !v.trainable {
		return
	}
	if err := kernels.AddInPlace(v.gradient, grad); err != nil {
		panic(errors.WithMessagef(err, "accumulating gradient of variable %q", v.name))
	}
	if v.l1 == 0 && v.l2 == 0 {
		return
	}
	l1, l2 := v.l1, v.l2
	err := kernels.ApplyInPlace(v.gradient, v.value, func(g, p float64) float64 {
		return g + l1*sign(p) + l2*p
	})
	if err != nil {
		panic(errors.WithMessagef(err, "regularizing gradient of variable %q", v.name))
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
