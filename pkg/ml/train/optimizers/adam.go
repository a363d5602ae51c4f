// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/autograph/pkg/core/graph"
	. "github.com/gomlx/exceptions"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001
)

// Adam optimization is a stochastic gradient descent method that is based on adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizers.Interface.
func Adam(loss *graph.Node) *AdamConfig {
	return &AdamConfig{
		loss:         loss,
		batchSize:    1,
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam based optimizers.Interface.
type AdamConfig struct {
	loss         *graph.Node
	batchSize    int
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	adamax       bool    // Works as Adamax.
	weightDecay  float64 // Works as AdamW.
}

// BatchSize scales the gradients by 1/batchSize, for losses that are summed (not averaged) over the batch.
// Defaults to 1.
func (c *AdamConfig) BatchSize(batchSize int) *AdamConfig {
	c.batchSize = batchSize
	return c
}

// LearningRate sets the base learning rate. Default is AdamDefaultLearningRate.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use a L-infinity (== max, which gives the name) for
// the second moment, instead of L2, as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// WeightDecay configure optimizer to work as AdamW, with the given static weight decay.
// This is because L2 regularization doesn't work well with Adam.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Done will finish the configuration and construct an optimizers.Interface that implements Adam to specification.
func (c *AdamConfig) Done() Interface {
	if c.beta1 < 0 || c.beta1 >= 1 || c.beta2 < 0 || c.beta2 >= 1 {
		Panicf("Adam: betas must be in the range [0, 1), got %g and %g", c.beta1, c.beta2)
	}
	if c.epsilon <= 0 {
		Panicf("Adam: epsilon must be > 0, got %g", c.epsilon)
	}
	name := "Adam"
	if c.adamax {
		name = "Adamax"
	}
	return &adam{
		base:    newBase(name, c.loss, c.batchSize, c.learningRate),
		config:  c,
		moments: newSlots(2),
	}
}

// adam implements the Adam algorithm as an optimizers.Interface.
// The 1st and 2nd order moments of each variable are kept in the two slots.
type adam struct {
	base
	config  *AdamConfig
	moments slots
}

// Update implements Interface.
func (o *adam) Update(session *graph.Session) error {
	vars, err := o.backward(session)
	if err != nil {
		return err
	}
	c := o.config
	beta1, beta2, epsilon := c.beta1, c.beta2, c.epsilon
	step := float64(o.step)
	debiasTermBeta1 := 1 / (1 - math.Pow(beta1, step))
	debiasTermBeta2 := 1 / (1 - math.Pow(beta2, step))
	lr := o.learningRate
	for _, v := range vars {
		moments := o.moments.get(v)
		moment1, moment2 := moments[0], moments[1]
		updateVariable(v, func(ii int, value, gradient float64) float64 {
			moment1[ii] = beta1*moment1[ii] + (1-beta1)*gradient
			var denominator float64
			if c.adamax {
				moment2[ii] = max(beta2*moment2[ii], math.Abs(gradient)) // L-infinity norm.
				denominator = moment2[ii] + epsilon
			} else {
				moment2[ii] = beta2*moment2[ii] + (1-beta2)*gradient*gradient
				denominator = math.Sqrt(moment2[ii]*debiasTermBeta2) + epsilon
			}
			stepDirection := moment1[ii] * debiasTermBeta1 / denominator
			if c.weightDecay > 0 {
				stepDirection += c.weightDecay * value
			}
			return value - lr*stepDirection
		})
	}
	return nil
}

// Clear implements Interface.
func (o *adam) Clear() {
	o.moments.clear()
	o.step = 0
}
