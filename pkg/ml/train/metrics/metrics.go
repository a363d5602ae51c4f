// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds streaming metrics of the loss (or any other scalar) computed during training,
// e.g. its mean or moving average. Use Attach to have them updated by a train.Loop.
package metrics

import (
	"fmt"

	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/exceptions"
)

// Interface for a metric: it is updated with one value at a time, and it can be read at any time.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably 5 characters or less) to be used in progress bars.
	ShortName() string

	// Update the metric with a new value.
	Update(value float64)

	// Value returns the current value of the metric. It returns 0 if no values were seen.
	Value() float64

	// PrettyPrint returns the current value as a human-readable string.
	PrettyPrint() string

	// Reset the metric state, discarding all values seen so far.
	Reset()
}

// PrettyPrintFn formats the value of a metric, see Interface.PrettyPrint.
type PrettyPrintFn func(value float64) string

// DefaultPrettyPrint uses 3 significant digits.
func DefaultPrettyPrint(value float64) string {
	return fmt.Sprintf("%.3g", value)
}

type baseMetric struct {
	name, shortName string
	pPrintFn        PrettyPrintFn
}

func newBaseMetric(name, shortName string, pPrintFn PrettyPrintFn) baseMetric {
	if pPrintFn == nil {
		pPrintFn = DefaultPrettyPrint
	}
	return baseMetric{name: name, shortName: shortName, pPrintFn: pPrintFn}
}

// Name implements Interface.
func (m *baseMetric) Name() string { return m.name }

// ShortName implements Interface.
func (m *baseMetric) ShortName() string { return m.shortName }

// MeanMetric is the mean of all values seen since the last Reset.
type MeanMetric struct {
	baseMetric
	sum   float64
	count int
}

// NewMeanMetric creates a MeanMetric. prettyPrintFn can be left nil, and DefaultPrettyPrint is used.
func NewMeanMetric(name, shortName string, prettyPrintFn PrettyPrintFn) *MeanMetric {
	return &MeanMetric{baseMetric: newBaseMetric(name, shortName, prettyPrintFn)}
}

// Update implements Interface.
func (m *MeanMetric) Update(value float64) {
	m.sum += value
	m.count++
}

// Value implements Interface.
func (m *MeanMetric) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// PrettyPrint implements Interface.
func (m *MeanMetric) PrettyPrint() string { return m.pPrintFn(m.Value()) }

// Reset implements Interface.
func (m *MeanMetric) Reset() {
	m.sum, m.count = 0, 0
}

// movingAverageMetric implements an exponential moving average.
type movingAverageMetric struct {
	baseMetric
	newExampleWeight float64
	value            float64
	count            int
}

// NewExponentialMovingAverageMetric creates a metric that keeps the exponential moving average of the values:
// `value = value*(1-newExampleWeight) + newValue*newExampleWeight`.
//
// While fewer than 1/newExampleWeight values have been seen, the plain mean is used instead, so the
// first values are not biased towards 0.
func NewExponentialMovingAverageMetric(name, shortName string, newExampleWeight float64,
	prettyPrintFn PrettyPrintFn) Interface {
	if newExampleWeight <= 0 || newExampleWeight > 1 {
		exceptions.Panicf("NewExponentialMovingAverageMetric(%q): newExampleWeight must be in (0, 1], got %g",
			name, newExampleWeight)
	}
	return &movingAverageMetric{
		baseMetric:       newBaseMetric(name, shortName, prettyPrintFn),
		newExampleWeight: newExampleWeight,
	}
}

// Update implements Interface.
func (m *movingAverageMetric) Update(value float64) {
	m.count++
	weight := max(m.newExampleWeight, 1/float64(m.count))
	m.value = m.value*(1-weight) + value*weight
}

// Value implements Interface.
func (m *movingAverageMetric) Value() float64 { return m.value }

// PrettyPrint implements Interface.
func (m *movingAverageMetric) PrettyPrint() string { return m.pPrintFn(m.value) }

// Reset implements Interface.
func (m *movingAverageMetric) Reset() {
	m.value, m.count = 0, 0
}

// SharedDataKey is the key in train.Loop.SharedData where Attach stores the attached metrics, a []Interface.
const SharedDataKey = "metrics"

// Attach the metrics to the loop: they are reset at the start of each run, and updated with the loss of each step.
// They are appended to the list stored in loop.SharedData[SharedDataKey], used for instance by progress bars.
func Attach(loop *train.Loop, metrics ...Interface) {
	attached, _ := loop.SharedData[SharedDataKey].([]Interface)
	loop.SharedData[SharedDataKey] = append(attached, metrics...)
	loop.OnStart("metrics", -100, func(_ *train.Loop, _ train.Dataset) error {
		for _, m := range metrics {
			m.Reset()
		}
		return nil
	})
	loop.OnStep("metrics", -100, func(_ *train.Loop, loss float64) error {
		for _, m := range metrics {
			m.Update(loss)
		}
		return nil
	})
}

// Attached returns the metrics attached to the loop with Attach.
func Attached(loop *train.Loop) []Interface {
	attached, _ := loop.SharedData[SharedDataKey].([]Interface)
	return attached
}
