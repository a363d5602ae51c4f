// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers, that can be used by train.Loop,
// or by themselves with graph.Session.Step. They all implement optimizers.Interface.
//
// Each update runs the backward pass of the loss in the session (reusing the forward values of the last
// run, if still valid), and then changes the value of every trainable variable reachable from the loss,
// in place. Non-trainable variables are skipped.
package optimizers

import (
	"slices"

	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Update runs one optimization step: it back-propagates the loss in the session, and updates the values
	// of the trainable variables accordingly. It implements graph.Updater, so it can be used with
	// graph.Session.Step.
	Update(session *graph.Session) error

	// Loss being minimized.
	Loss() *graph.Node

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// SetLearningRate changes the learning rate used by the following updates. Learning rate schedules
	// are implemented by the caller with it.
	SetLearningRate(learningRate float64)

	// Step returns the number of updates executed since the creation, or the last Clear.
	Step() int64

	// Clear deletes the optimizer state (e.g. moments) and resets the step counter.
	// This may be used if the training should be reset for some reason.
	Clear()
}

var _ graph.Updater = Interface(nil)

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	// This provides an easy quick start point. One can hyperparameter-tune the optimizers
	// for usually slightly better results.
	KnownOptimizers = map[string]func(loss *graph.Node) Interface{
		"sgd":     func(loss *graph.Node) Interface { return StochasticGradientDescent(loss).Done() },
		"adam":    func(loss *graph.Node) Interface { return Adam(loss).Done() },
		"adamax":  func(loss *graph.Node) Interface { return Adam(loss).Adamax().Done() },
		"adamw":   func(loss *graph.Node) Interface { return Adam(loss).WeightDecay(0.004).Done() },
		"rmsprop": func(loss *graph.Node) Interface { return RMSProp(loss).Done() },
		"adagrad": func(loss *graph.Node) Interface { return Adagrad(loss).Done() },
	}
)

// Names returns the sorted names of the KnownOptimizers.
func Names() []string {
	names := maps.Keys(KnownOptimizers)
	slices.Sort(names)
	return names
}

// ByName returns an optimizer given the name, or panics if one does not exist.
// It uses KnownOptimizers -- in case one wants to better handle invalid values.
//
// Example usage:
//
// ```
// var flagOptimizer = flag.String("optimizer", "adam", fmt.Sprintf("Optimizer, options: %q", optimizers.Names()))
//
// ...
//
//	loop := train.NewLoop(session, loss, optimizers.ByName(loss, *flagOptimizer))
//
// ```
func ByName(loss *graph.Node, optName string) Interface {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		Panicf("Unknown optimizer %q, valid values are %v.", optName, Names())
	}
	return optBuilder(loss)
}

// base holds what is common to all optimizers: the loss, the batch size used to scale the gradients,
// the learning rate and the step counter.
type base struct {
	name         string
	loss         *graph.Node
	batchSize    int
	learningRate float64
	step         int64
}

func newBase(name string, loss *graph.Node, batchSize int, learningRate float64) base {
	loss.AssertValid()
	if batchSize <= 0 {
		Panicf("%s: batch size must be > 0, got %d", name, batchSize)
	}
	if learningRate < 0 {
		Panicf("%s: learning rate must be >= 0, got %g", name, learningRate)
	}
	return base{name: name, loss: loss, batchSize: batchSize, learningRate: learningRate}
}

// Loss implements Interface.
func (b *base) Loss() *graph.Node { return b.loss }

// LearningRate implements Interface.
func (b *base) LearningRate() float64 { return b.learningRate }

// SetLearningRate implements Interface.
func (b *base) SetLearningRate(learningRate float64) { b.learningRate = learningRate }

// Step implements Interface.
func (b *base) Step() int64 { return b.step }

// backward runs the backward pass of the loss, with a seed of 1/batchSize, and increments the step counter.
// It returns the trainable variables, whose gradients are now available.
func (b *base) backward(session *graph.Session) ([]*graph.Variable, error) {
	if session.Graph() != b.loss.Graph() {
		return nil, errors.Errorf("%s: loss is part of graph %q, but session is for graph %q",
			b.name, b.loss.Graph().Name(), session.Graph().Name())
	}
	trainable := session.Graph().TrainableVariables(b.loss)
	if len(trainable) == 0 {
		return nil, errors.Errorf("%s: there are no trainable variables reachable from the loss %s", b.name, b.loss)
	}
	seed := tensors.Full(b.loss.DType(), 1/float64(b.batchSize))
	if err := session.Backward(b.loss, seed); err != nil {
		return nil, errors.WithMessagef(err, "%s", b.name)
	}
	b.step++
	if klog.V(2).Enabled() {
		klog.Infof("%s: step %d, %d trainable variables, learning rate %g", b.name, b.step, len(trainable), b.learningRate)
	}
	return trainable, nil
}

// updateVariable changes the value of v in place: each element becomes
// updateFn(flatIdx, value, gradient), where gradient is the one accumulated by the last backward pass.
func updateVariable(v *graph.Variable, updateFn func(flatIdx int, value, gradient float64) float64) {
	gradient := v.Gradient()
	v.Update(func(value *tensors.Tensor) {
		for ii := range value.Size() {
			value.SetFlatAt(ii, updateFn(ii, value.FlatAt(ii), gradient.FlatAt(ii)))
		}
	})
}

// slots holds per-variable state (e.g. moments) of an optimizer, allocated on first use.
// Slot values are kept in float64, regardless of the dtype of the variable.
type slots struct {
	numSlots int
	byVar    map[*graph.Variable][][]float64
}

func newSlots(numSlots int) slots {
	return slots{numSlots: numSlots, byVar: make(map[*graph.Variable][][]float64)}
}

// get returns the slots of the variable, zero-initialized on first use.
func (s *slots) get(v *graph.Variable) [][]float64 {
	state, found := s.byVar[v]
	if !found {
		state = make([][]float64, s.numSlots)
		for ii := range state {
			state[ii] = make([]float64, v.Shape().Size())
		}
		s.byVar[v] = state
	}
	return state
}

func (s *slots) clear() {
	clear(s.byVar)
}

// stochasticGradientDescent implements Interface for SGD.
type stochasticGradientDescent struct {
	base
	config   *SGDConfig
	velocity slots
}

// SgdDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
const SgdDefaultLearningRate = 0.01

// SGDConfig holds the configuration of the StochasticGradientDescent optimizer, call Done to create it.
type SGDConfig struct {
	loss         *graph.Node
	batchSize    int
	learningRate float64
	momentum     float64
	nesterov     bool
	decay        float64
}

// StochasticGradientDescent creates the configuration of an optimizer that performs SGD, optionally with
// momentum (classic or Nesterov) and learning rate decay. Call Done to get the optimizer.
func StochasticGradientDescent(loss *graph.Node) *SGDConfig {
	return &SGDConfig{loss: loss, batchSize: 1, learningRate: SgdDefaultLearningRate}
}

// BatchSize scales the gradients by 1/batchSize. Defaults to 1.
func (c *SGDConfig) BatchSize(batchSize int) *SGDConfig {
	c.batchSize = batchSize
	return c
}

// LearningRate sets the initial learning rate. Defaults to SgdDefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum factor, and whether to use Nesterov momentum. Default is no momentum.
func (c *SGDConfig) Momentum(momentum float64, nesterov bool) *SGDConfig {
	c.momentum, c.nesterov = momentum, nesterov
	return c
}

// Decay sets the learning rate decay: at step t the learning rate used is `learningRate / (1 + decay*t)`.
// Default is 0.
func (c *SGDConfig) Decay(decay float64) *SGDConfig {
	c.decay = decay
	return c
}

// Done finishes the configuration and returns the optimizer.
func (c *SGDConfig) Done() Interface {
	if c.momentum < 0 || c.decay < 0 {
		Panicf("StochasticGradientDescent: momentum and decay must be >= 0, got %g and %g", c.momentum, c.decay)
	}
	return &stochasticGradientDescent{
		base:     newBase("StochasticGradientDescent", c.loss, c.batchSize, c.learningRate),
		config:   c,
		velocity: newSlots(1),
	}
}

// Update implements Interface.
func (o *stochasticGradientDescent) Update(session *graph.Session) error {
	vars, err := o.backward(session)
	if err != nil {
		return err
	}
	lr := o.learningRate / (1 + o.config.decay*float64(o.step-1))
	momentum, nesterov := o.config.momentum, o.config.nesterov
	for _, v := range vars {
		if momentum == 0 {
			updateVariable(v, func(_ int, value, gradient float64) float64 {
				return value - lr*gradient
			})
			continue
		}
		velocity := o.velocity.get(v)[0]
		updateVariable(v, func(ii int, value, gradient float64) float64 {
			velocity[ii] = momentum*velocity[ii] - lr*gradient
			if nesterov {
				return value + momentum*velocity[ii] - lr*gradient
			}
			return value + velocity[ii]
		})
	}
	return nil
}

// Clear implements Interface.
func (o *stochasticGradientDescent) Clear() {
	o.velocity.clear()
	o.step = 0
}
