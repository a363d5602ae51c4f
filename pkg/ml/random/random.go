// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package random provides a seedable random number generator that fills tensors, used to initialize variables
// and to generate synthetic datasets.
//
// Generators are deterministic given their seed, and are not safe for concurrent use.
package random

import (
	"math/rand/v2"
	"time"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

// Random is a random number generator that creates tensors.
type Random struct {
	seed uint64
	rng  *rand.Rand
}

// New creates a new Random seeded from the clock.
func New() *Random {
	return NewWithSeed(uint64(time.Now().UnixNano()))
}

// NewWithSeed creates a new Random using the given seed: the same seed generates the same sequence of tensors.
func NewWithSeed(seed uint64) *Random {
	return &Random{seed: seed, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Seed used to create the generator.
func (r *Random) Seed() uint64 { return r.seed }

// Float64 returns a uniform random value in [0, 1).
func (r *Random) Float64() float64 { return r.rng.Float64() }

// NormFloat64 returns a value from the standard normal distribution.
func (r *Random) NormFloat64() float64 { return r.rng.NormFloat64() }

// IntN returns a uniform random integer in [0, n).
func (r *Random) IntN(n int) int { return r.rng.IntN(n) }

// Shuffle randomizes the order of n elements, using swap to exchange them.
func (r *Random) Shuffle(n int, swap func(i, j int)) { r.rng.Shuffle(n, swap) }

// fill creates a tensor with the given shape, with each element generated by fn.
func (r *Random) fill(shape shapes.Shape, fn func() float64) *tensors.Tensor {
	if shape.HasWildcard() {
		exceptions.Panicf("random: cannot generate values for shape %s with wildcard dimensions", shape)
	}
	t := tensors.FromShape(shape)
	for ii := range t.Size() {
		t.SetFlatAt(ii, fn())
	}
	return t
}

// Uniform returns a tensor with values sampled uniformly from [0, 1).
func (r *Random) Uniform(shape shapes.Shape) *tensors.Tensor {
	return r.fill(shape, r.rng.Float64)
}

// Normal returns a tensor with values sampled from a normal distribution with mean 0 and standard deviation 1.
func (r *Random) Normal(shape shapes.Shape) *tensors.Tensor {
	return r.fill(shape, r.rng.NormFloat64)
}

// Split returns a new generator, independent of ("split from") this one. The new seed is taken from r, so
// splitting is also deterministic.
func (r *Random) Split() *Random {
	return NewWithSeed(r.rng.Uint64())
}
