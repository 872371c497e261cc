// Package tensors implements Tensor, a multidimensional array stored in host memory as a flat Go slice of
// the Go type of its DType.
//
// Tensors are the values exchanged between actors at runtime and the inputs and outputs of kernels.
// Construct them with:
//
//   - FromShape(shape): zero values.
//   - FromScalarAndDimensions(value, dimensions...): filled with value.
//   - FromFlatDataAndDimensions(data, dimensions...): the data is copied.
//
// Access the data with ConstFlatData and MutableFlatData, or their generic versions.
package tensors

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor is a multidimensional array. It's safe for concurrent use.
type Tensor struct {
	mu    sync.RWMutex
	shape shapes.Shape

	// flat is a slice of the Go type of shape.DType, with shape.Size() elements.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if the shape is invalid.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape: invalid shape %s", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	MustMutableFlatData(t, func(flat []T) {
		for i := range flat {
			flat[i] = value
		}
	})
	return t
}

// FromScalar creates a scalar tensor.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions and a copy of data.
//
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: slices.Clone(data)}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape.Clone() }

// DType of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// ConstFlatData calls accessFn with the flat data, a slice of the Go type of the DType. It must not be
// modified.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data, which it may modify.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

func checkDType[T dtypes.Supported](t *Tensor) error {
	if want := dtypes.FromGenericsType[T](); t.shape.DType != want {
		var v T
		return errors.Errorf("flat data of type %T is incompatible with tensor dtype %s, expected dtype %s",
			v, t.shape.DType, want)
	}
	return nil
}

// ConstFlatData is the generic version of Tensor.ConstFlatData. It returns an error if T doesn't match the
// tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if err := checkDType[T](t); err != nil {
		return err
	}
	t.ConstFlatData(func(flat any) { accessFn(flat.([]T)) })
	return nil
}

// MutableFlatData is the generic version of Tensor.MutableFlatData. It returns an error if T doesn't match
// the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if err := checkDType[T](t); err != nil {
		return err
	}
	t.MutableFlatData(func(flat any) { accessFn(flat.([]T)) })
	return nil
}

// MustMutableFlatData is like MutableFlatData, but panics on error.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := MutableFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// CopyFlatData returns a copy of the flat data.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var data []T
	err := ConstFlatData(t, func(flat []T) { data = slices.Clone(flat) })
	return data, err
}

// MustCopyFlatData is like CopyFlatData, but panics on error.
func MustCopyFlatData[T dtypes.Supported](t *Tensor) []T {
	data, err := CopyFlatData[T](t)
	if err != nil {
		panic(err)
	}
	return data
}

// LayoutStrides returns the number of flat elements between consecutive indices of each axis (row-major).
func (t *Tensor) LayoutStrides() []int { return t.shape.Strides() }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := &Tensor{shape: t.shape.Clone()}
	t.ConstFlatData(func(flat any) {
		v := reflect.ValueOf(flat)
		cloneV := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(cloneV, v)
		clone.flat = cloneV.Interface()
	})
	return clone
}

// Equal returns whether both tensors have the same shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	equal := true
	t.ConstFlatData(func(flat0 any) {
		other.ConstFlatData(func(flat1 any) {
			v0, v1 := reflect.ValueOf(flat0), reflect.ValueOf(flat1)
			for i := range v0.Len() {
				if !v0.Index(i).Equal(v1.Index(i)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}

// maxStringElements is the number of elements printed by String.
const maxStringElements = 16

// String implements fmt.Stringer: the shape followed by the first elements of the flat data.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString(t.shape.String())
	t.ConstFlatData(func(flat any) {
		v := reflect.ValueOf(flat)
		sb.WriteString("{")
		for i := range min(v.Len(), maxStringElements) {
			if i > 0 {
				sb.WriteString(", ")
			}
			_, _ = fmt.Fprintf(&sb, "%v", v.Index(i).Interface())
		}
		if v.Len() > maxStringElements {
			sb.WriteString(", ...")
		}
		sb.WriteString("}")
	})
	return sb.String()
}
