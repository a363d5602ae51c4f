// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"math/rand/v2"
	"slices"
)

// StreamingMedianMetric implements a metric that keeps an approximate median of a metric from a streaming
// input: it keeps a uniform random sample (reservoir sampling) of the values seen.
type StreamingMedianMetric struct {
	baseMetric
	maxNumSamples, samplesSeen int
	samples                    []float64
	rng                        *rand.Rand
}

// NewMedianMetric creates a streaming median metric.
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(name, shortName string, prettyPrintFn PrettyPrintFn) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		baseMetric:    newBaseMetric(name, shortName, prettyPrintFn),
		maxNumSamples: 10_001,
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithSampleSize configures the default number of random samples to keep to estimate the median.
func (m *StreamingMedianMetric) WithSampleSize(n int) *StreamingMedianMetric {
	m.maxNumSamples = n
	return m
}

// Update implements Interface.
func (m *StreamingMedianMetric) Update(x float64) {
	m.samplesSeen++

	// Simple case: we have space to simply store the new sampled x.
	if len(m.samples) < m.maxNumSamples {
		m.samples = append(m.samples, x)
		return
	}

	// We must decide whether to keep x:
	if m.rng.Float64() >= float64(m.maxNumSamples)/float64(m.samplesSeen) {
		// We don't add new sample.
		return
	}
	// We replace the new sampled x in a random position.
	pos := m.rng.IntN(m.maxNumSamples)
	m.samples[pos] = x
}

// Value implements Interface.
func (m *StreamingMedianMetric) Value() float64 {
	if len(m.samples) == 0 {
		return 0
	}
	sorted := slices.Clone(m.samples)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// PrettyPrint implements Interface.
func (m *StreamingMedianMetric) PrettyPrint() string { return m.pPrintFn(m.Value()) }

// Reset implements Interface.
func (m *StreamingMedianMetric) Reset() {
	m.samples = m.samples[:0]
	m.samplesSeen = 0
}
