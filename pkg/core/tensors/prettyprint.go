// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"strings"
)

// maxRowElements is the number of elements in a row above which Summary elides the middle ones.
const maxRowElements = 6

// Summary returns a multi-line summary of the Tensor's content.
// Inspired by numpy output.
func (t *Tensor) Summary(precision int) string {
	t.AssertValid()
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	wValue := func(flatIdx int) { w("%.*g", precision, t.FlatAt(flatIdx)) }

	dims := t.shape.Dimensions
	for _, dim := range dims {
		w("[%d]", dim)
	}
	w("%s", t.DType().GoType())
	if len(dims) == 0 {
		w("(")
		wValue(0)
		w(")")
		return buf.String()
	}

	var printElements func(index, indent int, currentDims []int)
	printElements = func(index, indent int, currentDims []int) {
		if len(currentDims) == 1 {
			w("{")
			n := currentDims[0]
			for i := range n {
				if n > maxRowElements && i >= 3 && i < n-3 {
					if i == 3 {
						w(", ...")
					}
					continue
				}
				if i > 0 {
					w(", ")
				}
				wValue(index + i)
			}
			w("}")
			return
		}

		stride := 1
		for _, dim := range currentDims[1:] {
			stride *= dim
		}
		w("{")
		if indent == -1 {
			w("\n ")
			indent = 1
		}
		indentStr := strings.Repeat(" ", indent)
		n := currentDims[0]
		for ii := range n {
			if n > maxRowElements && ii >= 3 && ii < n-3 {
				if ii == 3 {
					w(",\n%s...", indentStr)
				}
				continue
			}
			if ii > 0 {
				w(",\n%s", indentStr)
			}
			printElements(index+ii*stride, indent+1, currentDims[1:])
		}
		w("}")
	}
	printElements(0, -1, dims)
	return buf.String()
}
