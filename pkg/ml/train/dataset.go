// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/autograph/pkg/core/tensors"
)

// Dataset for a train.Loop provides the data, one batch at a time: a slice of *tensors.Tensor, one for each
// of the placeholders given to NewLoop, in the same order.
//
// The tensors are bound to the placeholders by reference, so the dataset must not change them while they are
// in use (until the next Yield).
type Dataset interface {
	// Name identifies the dataset. Used for debugging and pretty-printing.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached.
	Reset()

	// Yield one "batch" (or whatever is the unit for a training step) or an error.
	//
	// If the error is `io.EOF` the training terminates normally (Loop.RunEpochs), as it indicates end of data
	// for finite datasets -- maybe the end of the epoch. If using Loop.RunSteps for training, having an
	// infinite dataset stream is ok.
	//
	// Any other errors should interrupt the training and be returned to the user.
	Yield() (inputs []*tensors.Tensor, err error)
}

// HasShortName allows a dataset to specify a short name (used when displaying progress).
// It defaults to the first 3 letters of the dataset name.
//
// It's optional.
type HasShortName interface {
	// ShortName returns the short name of the dataset.
	ShortName() string
}

// ShortName returns the short name of a dataset, see HasShortName.
func ShortName(ds Dataset) string {
	if sn, ok := ds.(HasShortName); ok {
		return sn.ShortName()
	}
	name := ds.Name()
	if len(name) > 3 {
		return name[:3]
	}
	return name
}

// fixedInputs is a Dataset that always yields the same tensors: used when the loop is run without a dataset,
// with the placeholders bound beforehand (or with no placeholders at all).
type fixedInputs struct{}

func (fixedInputs) Name() string { return "fixed" }

func (fixedInputs) Reset() {}

func (fixedInputs) Yield() ([]*tensors.Tensor, error) { return nil, nil }
