// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/autograph/pkg/core/graph"
	. "github.com/gomlx/exceptions"
)

// RMSPropDefaultLearningRate is used by RMSProp if no learning rate is set.
const RMSPropDefaultLearningRate = 0.001

// RMSPropConfig holds the configuration of the RMSProp optimizer, call Done to create it.
type RMSPropConfig struct {
	loss         *graph.Node
	batchSize    int
	learningRate float64
	rho, epsilon float64
}

// RMSProp divides the gradient by a moving average (with decay rho) of its recent magnitudes:
//
//	ms = rho*ms + (1-rho)*g², value -= lr * g / (sqrt(ms) + epsilon)
func RMSProp(loss *graph.Node) *RMSPropConfig {
	return &RMSPropConfig{loss: loss, batchSize: 1, learningRate: RMSPropDefaultLearningRate, rho: 0.9, epsilon: 1e-7}
}

// BatchSize scales the gradients by 1/batchSize. Defaults to 1.
func (c *RMSPropConfig) BatchSize(batchSize int) *RMSPropConfig {
	c.batchSize = batchSize
	return c
}

// LearningRate sets the learning rate. Default is RMSPropDefaultLearningRate.
func (c *RMSPropConfig) LearningRate(value float64) *RMSPropConfig {
	c.learningRate = value
	return c
}

// Rho sets the decay of the moving average of the squared gradients. Defaults to 0.9.
func (c *RMSPropConfig) Rho(rho float64) *RMSPropConfig {
	c.rho = rho
	return c
}

// Epsilon used on the denominator as a small constant for stability. Defaults to 1e-7.
func (c *RMSPropConfig) Epsilon(epsilon float64) *RMSPropConfig {
	c.epsilon = epsilon
	return c
}

// Done finishes the configuration and returns the optimizer.
func (c *RMSPropConfig) Done() Interface {
	if c.rho < 0 || c.rho >= 1 {
		Panicf("RMSProp: rho must be in the range [0, 1), got %g", c.rho)
	}
	return &rmsProp{
		base:       newBase("RMSProp", c.loss, c.batchSize, c.learningRate),
		config:     c,
		meanSquare: newSlots(1),
	}
}

type rmsProp struct {
	base
	config     *RMSPropConfig
	meanSquare slots
}

// Update implements Interface.
func (o *rmsProp) Update(session *graph.Session) error {
	vars, err := o.backward(session)
	if err != nil {
		return err
	}
	rho, epsilon, lr := o.config.rho, o.config.epsilon, o.learningRate
	for _, v := range vars {
		meanSquare := o.meanSquare.get(v)[0]
		updateVariable(v, func(ii int, value, gradient float64) float64 {
			meanSquare[ii] = rho*meanSquare[ii] + (1-rho)*gradient*gradient
			return value - lr*gradient/(math.Sqrt(meanSquare[ii])+epsilon)
		})
	}
	return nil
}

// Clear implements Interface.
func (o *rmsProp) Clear() {
	o.meanSquare.clear()
	o.step = 0
}

// AdagradDefaultLearningRate is used by Adagrad if no learning rate is set.
const AdagradDefaultLearningRate = 0.01

// AdagradConfig holds the configuration of the Adagrad optimizer, call Done to create it.
type AdagradConfig struct {
	loss         *graph.Node
	batchSize    int
	learningRate float64
	epsilon      float64
}

// Adagrad adapts the learning rate of each element by the accumulated sum of its squared gradients:
//
//	acc += g², value -= lr * g / (sqrt(acc) + epsilon)
func Adagrad(loss *graph.Node) *AdagradConfig {
	return &AdagradConfig{loss: loss, batchSize: 1, learningRate: AdagradDefaultLearningRate, epsilon: 1e-7}
}

// BatchSize scales the gradients by 1/batchSize. Defaults to 1.
func (c *AdagradConfig) BatchSize(batchSize int) *AdagradConfig {
	c.batchSize = batchSize
	return c
}

// LearningRate sets the learning rate. Default is AdagradDefaultLearningRate.
func (c *AdagradConfig) LearningRate(value float64) *AdagradConfig {
	c.learningRate = value
	return c
}

// Epsilon used on the denominator as a small constant for stability. Defaults to 1e-7.
func (c *AdagradConfig) Epsilon(epsilon float64) *AdagradConfig {
	c.epsilon = epsilon
	return c
}

// Done finishes the configuration and returns the optimizer.
func (c *AdagradConfig) Done() Interface {
	return &adagrad{
		base:        newBase("Adagrad", c.loss, c.batchSize, c.learningRate),
		config:      c,
		accumulator: newSlots(1),
	}
}

type adagrad struct {
	base
	config      *AdagradConfig
	accumulator slots
}

// Update implements Interface.
func (o *adagrad) Update(session *graph.Session) error {
	vars, err := o.backward(session)
	if err != nil {
		return err
	}
	epsilon, lr := o.config.epsilon, o.learningRate
	for _, v := range vars {
		accumulator := o.accumulator.get(v)[0]
		updateVariable(v, func(ii int, value, gradient float64) float64 {
			accumulator[ii] += gradient * gradient
			return value - lr*gradient/(math.Sqrt(accumulator[ii])+epsilon)
		})
	}
	return nil
}

// Clear implements Interface.
func (o *adagrad) Clear() {
	o.accumulator.clear()
	o.step = 0
}
