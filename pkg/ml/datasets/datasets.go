// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets is a collection of utility datasets (train.Dataset) that can be combined: `InMemory`, `Take`.
package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/train"
)

// Take returns a dataset that yields at most n batches of ds, and then io.EOF.
//
// Only successful yields are counted. If ds ends earlier, its io.EOF is returned as is. Reset restarts both.
func Take(ds train.Dataset, n int) train.Dataset {
	return &limitedDataset{inner: ds, limit: max(n, 0)}
}

type limitedDataset struct {
	inner          train.Dataset
	limit, yielded int
}

func (ds *limitedDataset) Name() string {
	return fmt.Sprintf("%s (first %d)", ds.inner.Name(), ds.limit)
}

// ShortName is the one of the wrapped dataset.
func (ds *limitedDataset) ShortName() string { return train.ShortName(ds.inner) }

func (ds *limitedDataset) Reset() {
	ds.inner.Reset()
	ds.yielded = 0
}

func (ds *limitedDataset) Yield() ([]*tensors.Tensor, error) {
	if ds.yielded >= ds.limit {
		return nil, io.EOF
	}
	inputs, err := ds.inner.Yield()
	if err != nil {
		return nil, err
	}
	ds.yielded++
	return inputs, nil
}

var (
	_ train.Dataset      = (*InMemoryDataset)(nil)
	_ train.HasShortName = (*InMemoryDataset)(nil)
	_ train.HasShortName = (*limitedDataset)(nil)
)
