// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds the training Loop, that drives a graph.Session through the steps of training: binding
// the inputs yielded by a Dataset, evaluating the loss and running the optimizer.
//
// Functionality (early stopping, progress bars, learning rate schedules) is attached to the Loop with hooks.
package train

import (
	"io"
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is the type of OnStep hooks. loss is the value of the loss evaluated in the step (averaged over
// all its elements, if not a scalar), before the optimizer update.
type OnStepFn func(loop *Loop, loss float64) error

// OnEndFn is the type of OnEnd hooks. loss is the one from the last step.
type OnEndFn func(loop *Loop, loss float64) error

// ErrStopLoop can be returned (possibly wrapped) by OnStep hooks to interrupt the training early. The loop
// then runs the OnEnd hooks and returns without an error.
var ErrStopLoop = errors.New("stop training loop")

// Loop will run a training loop: each step binds the inputs yielded by the dataset to the placeholders,
// evaluates the loss (graph.Session.Run) and runs the optimizer (graph.Session.Step), calling the
// appropriate hooks.
//
// By itself it doesn't do much, but one can attach functionality to it, like
// progress bars, early-stopping strategies, learning rate schedules, etc.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Session where the loss is evaluated.
	Session *graph.Session

	// Loss being minimized.
	Loss *graph.Node

	// Optimizer used at every step.
	Optimizer optimizers.Interface

	// Inputs are the placeholders bound to the tensors yielded by the dataset, in order.
	Inputs []*graph.Node

	// LoopStep currently being executed. It starts with 0 and is never reset, so calling RunSteps multiple
	// times continues the count.
	LoopStep int

	// StartStep is the value of LoopStep at the start of a run (RunSteps or RunEpochs).
	StartStep int

	// EndStep is one-past the last step to be executed. If -1 the end step is not known (if
	// running till the end of the dataset). When running for multiple epochs (Loop.RunEpochs) it can
	// change during the run (after the first epoch, the value is extrapolated based on how many steps
	// have been run so far).
	EndStep int

	// Epoch is set when running Loop.RunEpochs() to the current running epoch, starting from 0.
	Epoch int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// TrainStepDurations collected during the last run.
	TrainStepDurations []time.Duration

	// lossHistory holds the loss of every step, across runs.
	lossHistory []float64

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop, that minimizes loss with the optimizer, using the session.
// The inputs are the placeholders fed by the Dataset given to RunSteps or RunEpochs.
func NewLoop(session *graph.Session, loss *graph.Node, optimizer optimizers.Interface, inputs ...*graph.Node) *Loop {
	return &Loop{
		Session:    session,
		Loss:       loss,
		Optimizer:  optimizer,
		Inputs:     inputs,
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// LossHistory returns the loss of every step executed so far, across all runs.
// The returned slice must not be modified.
func (loop *Loop) LossHistory() []float64 {
	return loop.lossHistory
}

// start of loop, called by all looping methods.
//
// It calls the appropriate hooks.
func (loop *Loop) start(ds Dataset) error {
	loop.TrainStepDurations = loop.TrainStepDurations[:0]
	for hook := range loop.onStart.All() {
		err := hook.fn(loop, ds)
		if err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// step of loop, called by all looping methods.
// It calls the appropriate hooks.
func (loop *Loop) step(inputs []*tensors.Tensor) (loss float64, err error) {
	startTime := time.Now()
	if len(inputs) != len(loop.Inputs) {
		return 0, errors.Errorf("dataset yielded %d tensors, but the loop has %d input placeholders",
			len(inputs), len(loop.Inputs))
	}
	for ii, input := range inputs {
		if err = loop.Session.Bind(loop.Inputs[ii], input); err != nil {
			return 0, errors.WithMessagef(err, "binding input #%d", ii)
		}
	}
	lossValue, err := loop.Session.Run(loop.Loss)
	if err != nil {
		return 0, err
	}
	loss = meanOf(lossValue)
	if err = loop.Session.Step(loop.Optimizer); err != nil {
		return 0, err
	}
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	loop.lossHistory = append(loop.lossHistory, loss)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		// The session already delivered a NumericalInstabilityWarning.
		klog.V(1).Infof("train.Loop: step %d has non-finite loss %g", loop.LoopStep, loss)
	}

	// Call "OnStep" hooks.
	for hook := range loop.onStep.All() {
		err = hook.fn(loop, loss)
		if err != nil {
			return loss, errors.WithMessagef(err, "train.Loop.OnStep(hook %q)", hook.name)
		}
	}
	return loss, nil
}

// meanOf returns the mean of all elements of the tensor: the value itself for scalar losses.
func meanOf(t *tensors.Tensor) float64 {
	values := t.Float64s()
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// end of loop, called by all looping methods.
// It calls the appropriate hooks.
func (loop *Loop) end(loss float64) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, loss); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// RunSteps runs those many steps. StartStep and EndStep are adjusted to the current
// LoopStep, so it can be called multiple times, and it will simply pick up where it left of last time.
//
// The dataset can be nil, if the loop has no input placeholders, or if they were bound beforehand.
//
// It returns the loss evaluated in the last step.
func (loop *Loop) RunSteps(ds Dataset, steps int) (loss float64, err error) {
	if steps <= 0 {
		return 0, nil
	}
	if ds == nil {
		ds = fixedInputs{}
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + steps
	if err = loop.start(ds); err != nil {
		return 0, err
	}

	var stopped bool
	for loop.LoopStep = loop.StartStep; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		inputs, err := ds.Yield()
		if err != nil {
			if err == io.EOF {
				return loss, errors.Errorf(
					"reached Dataset end after %d steps (requested %d steps) -- did you mean to use "+
						"a different (looping) Dataset, or use Loop.RunEpochs() instead of Loop.RunSteps() ?",
					loop.LoopStep-loop.StartStep, steps)
			}
			return loss, errors.WithMessagef(err, "Loop.RunSteps(%d): failed reading from Dataset", steps)
		}
		loss, err = loop.step(inputs)
		if err != nil {
			if errors.Is(err, ErrStopLoop) {
				loop.LoopStep++
				stopped = true
				break
			}
			return loss, errors.WithMessagef(err, "Loop.RunSteps(%d): failed TrainStep(LoopStep=%d)",
				steps, loop.LoopStep)
		}
	}
	if stopped {
		klog.V(1).Infof("train.Loop: stopped early at step %d, loss %g", loop.LoopStep, loss)
	}
	err = loop.end(loss)
	if err != nil {
		return loss, errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", steps, loop.LoopStep)
	}
	return loss, nil
}

// RunEpochs runs over the dataset (until it returns io.EOF) that many times. StartStep is adjusted to the
// current LoopStep, so it can be called multiple times, and it will simply pick up where it left of last
// time.
// Loop.Epoch is set to the current running epoch. EndStep starts as -1 and will
// be adjusted to expectation after the first epoch, when one knows how many steps there are
// going to be.
// Dataset.Reset is called after each epoch (including the last).
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (loss float64, err error) {
	if ds == nil {
		return 0, errors.New("Loop.RunEpochs requires a dataset")
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.Epoch = 0
	if err = loop.start(ds); err != nil {
		return 0, err
	}
	stopped := false
	for loop.Epoch = 0; loop.Epoch < epochs && !stopped; loop.Epoch++ {
		yieldsPerEpoch := 0
		for {
			inputs, err := ds.Yield()
			if err != nil {
				if err == io.EOF {
					// End of epoch: estimate new last step (loop.EndStep).
					loop.EndStep = loop.LoopStep + yieldsPerEpoch*(epochs-loop.Epoch-1)
					break
				}
				return loss, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d): failed reading from Dataset",
					loop.Epoch, epochs)
			}
			yieldsPerEpoch++
			loss, err = loop.step(inputs)
			loop.LoopStep++
			if err != nil {
				if errors.Is(err, ErrStopLoop) {
					stopped = true
					break
				}
				return loss, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed TrainStep (LoopStep=%d)",
					epochs, loop.LoopStep-1)
			}
		}
		ds.Reset()
	}
	err = loop.end(loss)
	if err != nil {
		return loss, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return loss, nil
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		// Return something different from 0 to avoid division by 0.
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{
		name: name,
		fn:   fn,
	})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step of a loop.
// The function `fn` is called after the optimizer update of each step.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{
		name: name,
		fn:   fn,
	})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last step.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{
		name: name,
		fn:   fn,
	})
}

// EarlyStopBelow stops the loop (see ErrStopLoop) as soon as the loss of a step is <= threshold.
// If minSteps > 0, it only stops after that many steps of the current run.
func EarlyStopBelow(loop *Loop, threshold float64, minSteps int) {
	loop.OnStep("EarlyStopBelow", 1000, func(loop *Loop, loss float64) error {
		if loop.LoopStep+1-loop.StartStep < minSteps {
			return nil
		}
		if loss <= threshold {
			return errors.Wrapf(ErrStopLoop, "loss %g <= %g at step %d", loss, threshold, loop.LoopStep)
		}
		return nil
	})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	list := h.hooks[priority]
	list = append(list, hook)
	h.hooks[priority] = list
}

// All returns an iterator over all registered hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
