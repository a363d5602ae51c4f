// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/random"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InMemoryDataset is a train.Dataset that yields examples (or batches of examples) from tensors held in memory.
// All tensors share the leading axis, the example axis, and each Yield returns one slice of each of them, in
// order.
//
// It supports batching, shuffling (with and without replacement) and looping indefinitely.
// It is not safe for concurrent use.
type InMemoryDataset struct {
	// name of the dataset.
	name      string
	shortName string

	// data for each of the yielded tensors, with the examples on the leading axis.
	data []*tensors.Tensor

	// numExamples indicates the total number of examples.
	numExamples int

	// batchSize to yield. If set to 0 yields only one result at a time, without the leading axis.
	batchSize int

	// dropIncompleteBatch, when there are not enough remaining examples in the epoch.
	dropIncompleteBatch bool

	// next record to be sampled. If shuffle is given, this is an index in shuffle. If randomWithReplacement,
	// this is a count only.
	//
	// If it is set to -1, it means the dataset has been exhausted already.
	next int

	// randomWithReplacement indicates that one should simply take a random entry every time.
	randomWithReplacement bool

	// shuffle holds the current shuffle if Shuffle was selected.
	shuffle []int

	// infinite sets whether to loop indefinitely.
	infinite bool

	// rng used when random sampling, allows for deterministic random datasets.
	rng *random.Random

	// takeN is the maximum number of yields, before forcing an end of epoch. If <= 0, there is no limit.
	takeN, yielded int
}

// InMemoryFromData creates an InMemoryDataset from the given tensors, which must all have the same
// leading (examples) dimension.
//
// Returns a `InMemoryDataset`, that is initially not shuffled and not batched. You can configure how you want to
// use it with the other configuration methods.
func InMemoryFromData(name string, data ...*tensors.Tensor) (*InMemoryDataset, error) {
	if len(data) == 0 {
		return nil, errors.Errorf("InMemoryFromData(%q): no data given", name)
	}
	numExamples := -1
	for ii, t := range data {
		if !t.Ok() || t.Rank() == 0 {
			return nil, errors.Errorf("InMemoryFromData(%q): data[%d] must be a valid tensor with at least one axis",
				name, ii)
		}
		dim := t.Shape().Dimensions[0]
		if numExamples == -1 {
			numExamples = dim
		} else if dim != numExamples {
			return nil, errors.Errorf("InMemoryFromData(%q): data[%d] has %d examples (shape %s), but data[0] has %d",
				name, ii, dim, t.Shape(), numExamples)
		}
	}
	if numExamples == 0 {
		return nil, errors.Errorf("InMemoryFromData(%q): no examples in data", name)
	}
	mds := &InMemoryDataset{
		data:        data,
		numExamples: numExamples,
		rng:         random.New(),
	}
	mds.SetName(name)
	klog.V(1).Infof("InMemoryDataset %q: %d examples, %d tensors", name, numExamples, len(data))
	return mds, nil
}

// NumExamples cached in the dataset.
func (mds *InMemoryDataset) NumExamples() int {
	return mds.numExamples
}

// Memory returns the memory used by the data, in bytes.
func (mds *InMemoryDataset) Memory() (memory uintptr) {
	for _, t := range mds.data {
		memory += t.Memory()
	}
	return
}

// Name implements train.Dataset.
func (mds *InMemoryDataset) Name() string {
	return mds.name
}

// ShortName implements train.HasShortName.
func (mds *InMemoryDataset) ShortName() string {
	return mds.shortName
}

// SetName sets the name of the dataset and optionally its ShortName, and returns the updated dataset.
func (mds *InMemoryDataset) SetName(name string, shortName ...string) *InMemoryDataset {
	mds.name = name
	switch {
	case len(shortName) > 0:
		mds.shortName = shortName[0]
	case len(name) > 3:
		mds.shortName = name[:3]
	default:
		mds.shortName = name
	}
	return mds
}

// Reset implements train.Dataset.
func (mds *InMemoryDataset) Reset() {
	mds.next = 0
	mds.yielded = 0
	if mds.shuffle != nil {
		mds.reshuffle()
	}
}

// indicesNextYield retrieve the indices for the next Yield call.
func (mds *InMemoryDataset) indicesNextYield() (indices []int) {
	if mds.next == -1 {
		return // dataset already exhausted.
	}
	if mds.takeN > 0 && mds.yielded >= mds.takeN {
		mds.next = -1
		return
	}
	n := max(mds.batchSize, 1)
	indices = make([]int, 0, n)
	for mds.next < mds.numExamples && len(indices) < n {
		switch {
		case len(mds.shuffle) > 0:
			indices = append(indices, mds.shuffle[mds.next])
		case mds.randomWithReplacement:
			indices = append(indices, mds.rng.IntN(mds.numExamples))
		default:
			indices = append(indices, mds.next)
		}
		mds.next++
	}
	if len(indices) < n && mds.dropIncompleteBatch {
		// Drop the incomplete batch.
		indices = nil
	}
	if mds.next >= mds.numExamples {
		mds.next = -1
	}
	return
}

// Yield implements train.Dataset. The tensors yielded are new on each call.
func (mds *InMemoryDataset) Yield() (inputs []*tensors.Tensor, err error) {
	indices := mds.indicesNextYield()
	if len(indices) == 0 {
		if !mds.infinite {
			// Dataset is already exhausted.
			return nil, io.EOF
		}

		// If looping infinitely, automatically Reset and pull new indices.
		mds.Reset()
		indices = mds.indicesNextYield()
		if len(indices) == 0 {
			return nil, errors.Errorf("InMemoryDataset %q configured for infinite loop, but Reset failed to "+
				"generate new examples (batch size %d > %d examples?)", mds.name, mds.batchSize, mds.numExamples)
		}
	}
	mds.yielded++
	inputs = make([]*tensors.Tensor, len(mds.data))
	for ii, data := range mds.data {
		inputs[ii] = mds.gather(data, indices)
	}
	return inputs, nil
}

// gather the examples at indices from data: the result has a leading batch axis with len(indices) elements,
// or no leading axis if not batching.
func (mds *InMemoryDataset) gather(data *tensors.Tensor, indices []int) *tensors.Tensor {
	exampleDims := data.Shape().Dimensions[1:]
	exampleSize := data.Size() / mds.numExamples
	var dims []int
	if mds.batchSize > 0 {
		dims = append([]int{len(indices)}, exampleDims...)
	} else {
		dims = exampleDims
	}
	gathered := tensors.Zeros(data.DType(), dims...)
	for batchIdx, exampleIdx := range indices {
		for jj := range exampleSize {
			gathered.SetFlatAt(batchIdx*exampleSize+jj, data.FlatAt(exampleIdx*exampleSize+jj))
		}
	}
	return gathered
}

// RandomWithReplacement configures the InMemoryDataset to return random elements with replacement.
// If this is configured, Shuffle is canceled.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) RandomWithReplacement() *InMemoryDataset {
	mds.randomWithReplacement = true
	mds.shuffle = nil
	return mds
}

// Shuffle configures the InMemoryDataset to shuffle the order of the data. It returns random elements
// without replacement. If this is configured, RandomWithReplacement is canceled.
//
// At each call to Reset() it is reshuffled. It happens automatically if dataset is configured to loop.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Shuffle() *InMemoryDataset {
	mds.randomWithReplacement = false
	mds.reshuffle()
	return mds
}

func (mds *InMemoryDataset) reshuffle() {
	if mds.shuffle == nil {
		mds.shuffle = make([]int, mds.numExamples)
	}
	for ii := range mds.shuffle {
		mds.shuffle[ii] = ii
	}
	mds.rng.Shuffle(len(mds.shuffle), func(i, j int) {
		mds.shuffle[i], mds.shuffle[j] = mds.shuffle[j], mds.shuffle[i]
	})
}

// BatchSize configures the InMemoryDataset to return batches of the given size. dropIncompleteBatch is set to true,
// it will simply drop examples if there are not enough to fill a batch -- this can only happen on the last
// batch of an epoch. Otherwise, it will return a partially filled batch.
//
// If `n` is set to 0, it reverts back to yielding one example at a time.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) BatchSize(n int, dropIncompleteBatch bool) *InMemoryDataset {
	mds.batchSize = n
	mds.dropIncompleteBatch = dropIncompleteBatch
	return mds
}

// WithRand sets the random number generator for shuffling or random sampling. This allows for repeatable
// deterministic random sampling. The default is to use a generator seeded with the clock.
//
// If dataset is configured with Shuffle, this re-shuffles the dataset immediately.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) WithRand(rng *random.Random) *InMemoryDataset {
	mds.rng = rng
	if mds.shuffle != nil {
		mds.reshuffle()
	}
	return mds
}

// Infinite sets whether the dataset should loop indefinitely. The default is `infinite = false`, which
// causes the dataset to going through the data only once before returning io.EOF.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Infinite(infinite bool) *InMemoryDataset {
	mds.infinite = infinite
	return mds
}

// TakeN configures dataset to only yield N times (examples or batches) before returning io.EOF.
// If set to 0 or -1, it takes as many as there is data.
// If configured, it automatically disables InMemoryDataset.Infinite
func (mds *InMemoryDataset) TakeN(n int) *InMemoryDataset {
	if n > 0 {
		mds.Infinite(false)
	}
	mds.takeN = n
	return mds
}

// String implements fmt.Stringer.
func (mds *InMemoryDataset) String() string {
	return fmt.Sprintf("InMemoryDataset(%q, %d examples, batch size %d)", mds.name, mds.numExamples, mds.batchSize)
}
