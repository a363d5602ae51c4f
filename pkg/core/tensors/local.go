// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flat representation of one element.
//
// The contents must not be changed: see MutableFlatData for that.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data.
// The type of the slice corresponds to the DType of the tensor.
// The contents of the slice itself can be changed until accessFn returns.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type T.
// It panics if T doesn't match the tensor's dtype.
//
// The contents must not be changed: see MutableFlatData for that.
func ConstFlatData[T Float](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatRef[T](t))
}

// MutableFlatData calls accessFn with a flat slice pointing to the Tensor data, as a slice of the Go type T.
// It panics if T doesn't match the tensor's dtype.
func MutableFlatData[T Float](t *Tensor, accessFn func(flat []T)) {
	accessFn(flatRef[T](t))
}

func flatRef[T Float](t *Tensor) []T {
	t.AssertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensor of dtype %s cannot be accessed as %T", t.DType(), flat)
	}
	return flat
}

// CopyFlatData returns a copy of the flat data of the Tensor, converted to T if needed.
func CopyFlatData[T Float](t *Tensor) []T {
	t.AssertValid()
	switch flat := t.flat.(type) {
	case []float32:
		return convertFlat[float32, T](flat)
	case []float64:
		return convertFlat[float64, T](flat)
	}
	return nil
}

func convertFlat[From, To Float](flat []From) []To {
	out := make([]To, len(flat))
	for ii, v := range flat {
		out[ii] = To(v)
	}
	return out
}

// AssignFlatData copies fromFlat into the tensor, converting the values if needed.
// It panics if the number of elements differs.
func AssignFlatData[T Float](t *Tensor, fromFlat []T) {
	t.AssertValid()
	if len(fromFlat) != t.Size() {
		exceptions.Panicf("AssignFlatData: tensor %s has %d elements, flat data given has %d", t.shape, t.Size(), len(fromFlat))
	}
	switch flat := t.flat.(type) {
	case []float32:
		for ii, v := range fromFlat {
			flat[ii] = float32(v)
		}
	case []float64:
		for ii, v := range fromFlat {
			flat[ii] = float64(v)
		}
	}
}

// ToScalar returns the scalar value of the Tensor, converted to T.
// It panics if the tensor is not a scalar.
func ToScalar[T Float](t *Tensor) T {
	t.AssertValid()
	if !t.IsScalar() {
		exceptions.Panicf("ToScalar: tensor %s is not a scalar", t.shape)
	}
	return T(t.FlatAt(0))
}

// FlatAt returns the element at the given flat index (row-major), converted to float64.
func (t *Tensor) FlatAt(flatIdx int) float64 {
	t.AssertValid()
	switch flat := t.flat.(type) {
	case []float32:
		return float64(flat[flatIdx])
	case []float64:
		return flat[flatIdx]
	}
	return math.NaN()
}

// SetFlatAt sets the element at the given flat index (row-major), converted from float64.
func (t *Tensor) SetFlatAt(flatIdx int, value float64) {
	t.AssertValid()
	switch flat := t.flat.(type) {
	case []float32:
		flat[flatIdx] = float32(value)
	case []float64:
		flat[flatIdx] = value
	}
}

// At returns the element at the given indices, converted to float64.
func (t *Tensor) At(indices ...int) float64 {
	if len(indices) != t.Rank() {
		exceptions.Panicf("Tensor.At(%v): tensor %s has rank %d", indices, t.shape, t.Rank())
	}
	flatIdx := 0
	for axis, stride := range t.shape.Strides() {
		if indices[axis] < 0 || indices[axis] >= t.shape.Dimensions[axis] {
			exceptions.Panicf("Tensor.At(%v): index out-of-bounds for shape %s", indices, t.shape)
		}
		flatIdx += indices[axis] * stride
	}
	return t.FlatAt(flatIdx)
}

// Float64s returns a copy of the tensor's flat data as float64.
func (t *Tensor) Float64s() []float64 {
	return CopyFlatData[float64](t)
}

// Value returns a multidimensional slice (except if shape is a scalar) containing a copy of the values stored
// in the tensor.
//
// For example, a Float64 tensor of shape [3][2] returns a [][]float64.
func (t *Tensor) Value() any {
	t.AssertValid()
	flatV := reflect.ValueOf(t.flat)
	if t.IsScalar() {
		return flatV.Index(0).Interface()
	}
	dataV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(dataV, flatV)
	return convertDataToSlices(dataV, t.shape.Dimensions...).Interface()
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	clone := &Tensor{shape: t.shape.Clone()}
	switch flat := t.flat.(type) {
	case []float32:
		clone.flat = slices.Clone(flat)
	case []float64:
		clone.flat = slices.Clone(flat)
	}
	return clone
}

// Reshape returns a copy of the tensor with the new dimensions. One of the dimensions can be -1, in which case it
// is inferred from the total size.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	t.AssertValid()
	dims, err := ResolveReshapeDims(t.Size(), dimensions)
	if err != nil {
		return nil, errors.WithMessagef(err, "reshaping tensor %s", t.shape)
	}
	clone := t.Clone()
	clone.shape = shapes.Make(t.DType(), dims...)
	return clone, nil
}

// ResolveReshapeDims returns the dimensions for a reshape of a tensor with size elements. At most one of the
// requested dimensions may be -1, it is then inferred. It returns an error if the sizes don't match.
func ResolveReshapeDims(size int, dimensions []int) ([]int, error) {
	dims := slices.Clone(dimensions)
	inferredAxis := -1
	known := 1
	for axis, dim := range dims {
		switch {
		case dim == -1:
			if inferredAxis != -1 {
				return nil, errors.Errorf("reshape to %v: only one dimension can be -1", dimensions)
			}
			inferredAxis = axis
		case dim <= 0:
			return nil, errors.Errorf("reshape to %v: invalid dimension %d", dimensions, dim)
		default:
			known *= dim
		}
	}
	if inferredAxis >= 0 {
		if size%known != 0 {
			return nil, errors.Errorf("reshape of %d elements to %v: size not divisible by %d", size, dimensions, known)
		}
		dims[inferredAxis] = size / known
		known = size
	}
	if known != size {
		return nil, errors.Errorf("reshape of %d elements to %v (%d elements): sizes don't match", size, dimensions, known)
	}
	return dims, nil
}

// Equal checks weather t == otherTensor.
// If they are the same pointer they are considered equal.
// If the shapes are different it returns false.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	switch flat := t.flat.(type) {
	case []float32:
		return slices.Equal(flat, otherTensor.flat.([]float32))
	case []float64:
		return slices.Equal(flat, otherTensor.flat.([]float64))
	}
	return false
}

// InDelta checks weather Abs(t - otherTensor) < delta for every element.
// If they are the same pointer they are considered equal.
// If the shapes are different it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	for ii := range t.Size() {
		v0, v1 := t.FlatAt(ii), otherTensor.FlatAt(ii)
		if math.IsNaN(v0) || math.IsNaN(v1) || math.Abs(v0-v1) > delta {
			return false
		}
	}
	return true
}

// CountNonFinite returns the number of NaN and of ±Inf values in the tensor.
func (t *Tensor) CountNonFinite() (numNaN, numInf int) {
	t.AssertValid()
	for ii := range t.Size() {
		v := t.FlatAt(ii)
		if math.IsNaN(v) {
			numNaN++
		} else if math.IsInf(v, 0) {
			numInf++
		}
	}
	return
}

// HasNonFinite returns whether any of the values is NaN or ±Inf.
func (t *Tensor) HasNonFinite() bool {
	numNaN, numInf := t.CountNonFinite()
	return numNaN+numInf > 0
}

// String converts to string, if not too large. It uses t.Summary(precision=4)
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	return t.Summary(4)
}

// FromScalar creates a tensor with the given scalar.
// The `DType` is inferred from the value.
func FromScalar[T Float](value T) (t *Tensor) {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T Float](value T, dimensions ...int) (t *Tensor) {
	t = FromShape(shapes.Make(DTypeFor[T](), dimensions...))
	MutableFlatData(t, func(flat []T) {
		for ii := range flat {
			flat[ii] = value
		}
	})
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
func FromFlatDataAndDimensions[T Float](data []T, dimensions ...int) (t *Tensor) {
	shape := shapes.Make(DTypeFor[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d", shape, len(data), shape.Size())
	}
	t = FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return
}

// Full returns a tensor of the given dtype and dimensions with every element set to value.
func Full(dtype dtypes.DType, value float64, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtype, dimensions...))
	t.Fill(value)
	return t
}

// Zeros returns a tensor of the given dtype and dimensions filled with 0.
func Zeros(dtype dtypes.DType, dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtype, dimensions...))
}

// Ones returns a tensor of the given dtype and dimensions filled with 1.
func Ones(dtype dtypes.DType, dimensions ...int) *Tensor {
	return Full(dtype, 1, dimensions...)
}

// FullLike returns a tensor with the same shape as t, filled with value.
func FullLike(t *Tensor, value float64) *Tensor {
	return Full(t.DType(), value, t.shape.Dimensions...)
}

// ZerosLike returns a tensor with the same shape as t, filled with 0.
func ZerosLike(t *Tensor) *Tensor {
	return FromShape(t.shape)
}

// OnesLike returns a tensor with the same shape as t, filled with 1.
func OnesLike(t *Tensor) *Tensor {
	return FullLike(t, 1)
}

// Fill sets every element of the tensor to value.
func (t *Tensor) Fill(value float64) {
	t.AssertValid()
	switch flat := t.flat.(type) {
	case []float32:
		for ii := range flat {
			flat[ii] = float32(value)
		}
	case []float64:
		for ii := range flat {
			flat[ii] = value
		}
	}
}

// CopyFrom copies the contents of `from` into t. The shapes must be equal.
func (t *Tensor) CopyFrom(from *Tensor) error {
	t.AssertValid()
	from.AssertValid()
	if !t.shape.Equal(from.shape) {
		return errors.Errorf("cannot copy tensor of shape %s into tensor of shape %s", from.shape, t.shape)
	}
	switch flat := t.flat.(type) {
	case []float32:
		copy(flat, from.flat.([]float32))
	case []float64:
		copy(flat, from.flat.([]float64))
	}
	return nil
}

// FromValue returns a tensor constructed from the given multi-dimension slice (or scalar).
// If the rank of the `value` is larger than 1, the shape of all sub-slices must be the same.
//
// It panics if the shape is not regular.
//
// Notice that FromFlatDataAndDimensions is much faster if speed here is a concern.
func FromValue[S MultiDimensionSlice](value S) *Tensor {
	return FromAnyValue(value)
}

// FromAnyValue is a non-generic version of FromValue.
// The input is expected to be either a float scalar or a slice of slices with homogeneous dimensions.
// If the input is a tensor already, it is simply returned.
//
// It panics with an error if `value` type is unsupported or the shape is not regular.
func FromAnyValue(value any) (t *Tensor) {
	if valueT, ok := value.(*Tensor); ok {
		return valueT
	}
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.Wrapf(err, "cannot create shape from %T", value))
	}
	t = FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	if shape.IsScalar() {
		flatV.Index(0).Set(reflect.ValueOf(value))
		return
	}
	copySlicesRecursively(flatV, reflect.ValueOf(value), shape.Strides())
	return
}

// copySlicesRecursively copy values on a multi-dimension slice to a flat data slice
// assuming the strides for each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		reflect.Copy(data, mdSlice)
		return
	}
	numElements := mdSlice.Len()
	subStrides := strides[1:]
	for ii := range numElements {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		copySlicesRecursively(subData, mdSlice.Index(ii), subStrides)
	}
}

// convertDataToSlices takes data as a flat slice, and creates a multidimensional slices with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	return createSlicesRecursively(resultT, dataV, dimensions, shapes.StridesOf(dimensions))
}

func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	for ii := range numElements {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		slice.Index(ii).Set(createSlicesRecursively(resultT.Elem(), subData, dimensions[1:], strides[1:]))
	}
	return slice
}

func shapeForValue(v any) (shape shapes.Shape, err error) {
	err = shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	if t == nil {
		return errors.New("cannot convert nil to a tensor")
	}
	switch t.Kind() {
	case reflect.Slice:
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()
		if v.Len() == 0 {
			return errors.Errorf("value with empty slice not valid for Tensor conversion: %T", v.Interface())
		}
		if err := shapeForValueRecursive(shape, v.Index(0), t); err != nil {
			return err
		}
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			if err := shapeForValueRecursive(&shapeTest, v.Index(ii), t); err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return fmt.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}
	case reflect.Float32:
		shape.DType = dtypes.Float32
	case reflect.Float64:
		shape.DType = dtypes.Float64
	default:
		return errors.Errorf("cannot convert type %s to a tensor, only float32 and float64 are supported", t)
	}
	return nil
}
