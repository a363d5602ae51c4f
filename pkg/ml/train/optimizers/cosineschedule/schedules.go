// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cosineschedule implements a cosine annealing schedule for the learning rate.
// See New for details and example of usage, and original paper description in [1]
//
// [1] https://paperswithcode.com/method/cosine-annealing.
package cosineschedule

import (
	"math"

	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Config of the cosine annealing schedule strategy.
// New creates it and once configured, call Config.Done to attach it to the training loop.
type Config struct {
	loop                          *train.Loop
	learningRate, minLearningRate float64
	periodNumSteps                int
	warmUpSteps                   int
}

// New creates a configuration to apply a cosine annealing schedule for the learning rate of the optimizer
// of the loop. See details https://paperswithcode.com/method/cosine-annealing.
//
// It returns a Config that can be configured. When finished configuring, call
// `Done` and it will register the hooks that update the learning rate before every training step.
//
// Example with only one cycle, and a warmup of 1000 steps:
//
//	loop := train.NewLoop(session, loss, optimizers.Adam(loss).Done(), inputs...)
//	cosineschedule.New(loop).
//		LearningRate(0.01).
//		MinLearningRate(0.001).
//		WarmUpSteps(1000).
//		PeriodInSteps(-1).Done()
func New(loop *train.Loop) *Config {
	return &Config{loop: loop}
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule. The effective
// learning rate decreases over the given period of training steps and then is restarted at
// each new period.
//
// It's common to use only one period (so no annealing, just a cosine schedule), in which case
// set to the number of steps that will be used for training.
//
// A negative value sets the period to a fraction of the total training steps (Loop.EndStep): -1 for the
// total number of steps, -2 for half of it, and so on.
//
// If set to 0 (the default), the cosine annealing schedule is silently disabled.
func (opt *Config) PeriodInSteps(periodSteps int) *Config {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 0.0.
func (opt *Config) MinLearningRate(minLearningRate float64) *Config {
	opt.minLearningRate = minLearningRate
	return opt
}

// WarmUpSteps sets the number of steps to linearly increase the learning rate from MinLearningRate to the
// LearningRate.
//
// The default is 0, which means no warmup.
func (opt *Config) WarmUpSteps(warmUpSteps int) *Config {
	opt.warmUpSteps = warmUpSteps
	return opt
}

// LearningRate at the start of the cosine cycle.
// If not given, the learning rate of the optimizer at the start of the loop is used.
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// DefaultLastStep is the default value for the last step of the training while one is not yet known.
const DefaultLastStep = 1_000_000_000

// HookName used for the hooks registered in the loop.
const HookName = "cosineschedule"

// Done finalizes the configuration and registers the loop hooks that set the learning rate of the
// optimizer before each step.
func (opt *Config) Done() {
	if opt.periodNumSteps == 0 {
		return
	}
	if opt.warmUpSteps < 0 || opt.minLearningRate < 0 {
		exceptions.Panicf("cosineschedule: warm-up steps (%d) and minimum learning rate (%g) must be >= 0",
			opt.warmUpSteps, opt.minLearningRate)
	}
	// Run before any other hook, so they see the learning rate of the next step.
	const priority = train.Priority(-1000)
	opt.loop.OnStart(HookName, priority, func(loop *train.Loop, _ train.Dataset) error {
		if opt.learningRate == 0 {
			opt.learningRate = loop.Optimizer.LearningRate()
			klog.V(1).Infof("cosineschedule: using optimizer's learning rate %g", opt.learningRate)
		}
		loop.Optimizer.SetLearningRate(opt.LearningRateAt(loop.LoopStep, loop.EndStep))
		return nil
	})
	opt.loop.OnStep(HookName, priority, func(loop *train.Loop, _ float64) error {
		loop.Optimizer.SetLearningRate(opt.LearningRateAt(loop.LoopStep+1, loop.EndStep))
		return nil
	})
}

// LearningRateAt returns the learning rate for the given step. lastStep is only used if the period is given as
// a fraction of the total number of steps, and if negative (not known yet) DefaultLastStep is used instead.
func (opt *Config) LearningRateAt(step, lastStep int) float64 {
	if opt.periodNumSteps == 0 {
		return opt.learningRate
	}
	var ratio float64
	cosineStep := float64(step - opt.warmUpSteps)
	if cosineStep < 0 {
		ratio = float64(step) / float64(opt.warmUpSteps)
	} else {
		periodNumSteps := float64(opt.periodNumSteps)
		if opt.periodNumSteps < 0 {
			if lastStep < 0 {
				lastStep = DefaultLastStep
			}
			periodNumSteps = float64(lastStep) / float64(-opt.periodNumSteps)
		}
		// A cycle represents the fraction of a half-circle (180 degrees, or pi radians).
		cycle := cosineStep / periodNumSteps
		cycle -= math.Floor(cycle) // Take only the fractional part: so always in the range `[0.0, 1.0)`.
		ratio = (math.Cos(cycle*math.Pi) + 1) / 2
	}
	return ratio*(opt.learningRate-opt.minLearningRate) + opt.minLearningRate
}
