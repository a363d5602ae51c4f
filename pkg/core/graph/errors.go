// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ShapeMismatchError is raised when the shapes of the operands of an operation are not compatible, or when a
// tensor bound to a placeholder doesn't match its declared shape.
//
// Graph building functions panic with it (wrapped with a stack trace), Session methods return it.
// Use errors.As to recover it.
type ShapeMismatchError struct {
	// Op is the operation (or "Bind") where the mismatch was detected.
	Op string

	// Shapes of the operands involved.
	Shapes []shapes.Shape

	// Reason describes the mismatch.
	Reason string
}

// Error implements error.
func (e *ShapeMismatchError) Error() string {
	parts := make([]string, len(e.Shapes))
	for ii, s := range e.Shapes {
		parts[ii] = s.String()
	}
	return fmt.Sprintf("shape mismatch in %s(%s): %s", e.Op, strings.Join(parts, ", "), e.Reason)
}

// shapeMismatchf panics with a *ShapeMismatchError, with a stack trace.
func shapeMismatchf(op string, operandShapes []shapes.Shape, format string, args ...any) {
	panic(errors.WithStack(&ShapeMismatchError{
		Op:     op,
		Shapes: operandShapes,
		Reason: fmt.Sprintf(format, args...),
	}))
}

// UnboundInputError is raised when a placeholder is evaluated before a tensor was bound to it in the session.
type UnboundInputError struct {
	// Name of the placeholder.
	Name string

	// Shape declared for the placeholder.
	Shape shapes.Shape
}

// Error implements error.
func (e *UnboundInputError) Error() string {
	return fmt.Sprintf("placeholder %q (shape %s) evaluated without a bound tensor, use Session.Bind first", e.Name, e.Shape)
}

// NumericalInstabilityWarning reports non-finite values (NaN or ±Inf) found in a result of a session run, or in
// the gradient of a variable after a backward pass.
//
// It is not fatal: the session delivers it to its warning handler (see Session.SetWarningHandler) and carries on.
// Reacting to it (e.g. lowering the learning rate) is left to the caller.
type NumericalInstabilityWarning struct {
	// Where is either "forward" or "backward".
	Where string

	// Node is the first node (in evaluation order) whose value was not finite, for forward warnings.
	Node *Node

	// Variable whose gradient was not finite, for backward warnings.
	Variable *Variable

	// NumNaN and NumInf count the non-finite values found.
	NumNaN, NumInf int
}

// Error implements error, so warnings can be returned or wrapped as errors by callers that want to.
func (w *NumericalInstabilityWarning) Error() string {
	if w.Variable != nil {
		return fmt.Sprintf("numerical instability in %s pass: gradient of variable %q has %d NaN and %d Inf values",
			w.Where, w.Variable.Name(), w.NumNaN, w.NumInf)
	}
	return fmt.Sprintf("numerical instability in %s pass: node %s has %d NaN and %d Inf values",
		w.Where, w.Node, w.NumNaN, w.NumInf)
}
