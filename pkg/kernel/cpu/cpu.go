// Package cpu registers reference CPU kernels in kernel.Default for the operator types of package ops:
// data movement and control operators for any dtype, and math operators for the plain Go numeric types.
//
// The kernels are straightforward loops over the flat data: they define the semantics of the operators,
// not their performance.
package cpu

import (
	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/kernel"
	"github.com/gomlx/jobflow/pkg/ops"
	"golang.org/x/exp/constraints"
)

// numeric are the Go types with a DType that support arithmetic.
type numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

func init() {
	Register(kernel.Default)
}

// Register the CPU kernels in the registry.
func Register(registry *kernel.Registry) {
	registerAny := func(opType string, factory kernel.Factory) {
		registry.MustRegister(kernel.Key{OpType: opType, DeviceType: placement.DeviceTypeCPU, DType: kernel.AnyDType}, factory)
	}
	registerAny(ops.TypeIdentity, stateless(passThrough))
	registerAny(ops.TypeBoxing, stateless(passThrough))
	registerAny(ops.TypeTick, stateless(tick))
	registerAny(ops.TypeSinkTick, stateless(tick))
	registerAny(ops.TypeInput, stateless(zeros))
	registerAny(ops.TypeTranspose, stateless(transpose))

	registerNumeric[int8](registry)
	registerNumeric[int16](registry)
	registerNumeric[int32](registry)
	registerNumeric[int64](registry)
	registerNumeric[uint8](registry)
	registerNumeric[uint16](registry)
	registerNumeric[uint32](registry)
	registerNumeric[uint64](registry)
	registerNumeric[float32](registry)
	registerNumeric[float64](registry)
	registerFloat[float32](registry)
	registerFloat[float64](registry)
}

func registerNumeric[T numeric](registry *kernel.Registry) {
	dtype := dtypes.FromGenericsType[T]()
	register := func(opType string, factory kernel.Factory) {
		registry.MustRegister(kernel.Key{OpType: opType, DeviceType: placement.DeviceTypeCPU, DType: dtype}, factory)
	}
	register(ops.TypeMaximum, stateless(binary(maxOf[T])))
	register(ops.TypeMinimum, stateless(binary(minOf[T])))
	register(ops.TypeMaximumBackward, stateless(binaryBackward(func(x, y T) bool { return x > y })))
	register(ops.TypeMinimumBackward, stateless(binaryBackward(func(x, y T) bool { return x < y })))
	register(ops.TypeAddN, stateless(addN[T]))
	register(ops.TypeVariable, variable[T])
	register(ops.TypeFillLike, fillLike[T])
}

func registerFloat[T float32 | float64](registry *kernel.Registry) {
	dtype := dtypes.FromGenericsType[T]()
	register := func(opType string, factory kernel.Factory) {
		registry.MustRegister(kernel.Key{OpType: opType, DeviceType: placement.DeviceTypeCPU, DType: dtype}, factory)
	}
	register(ops.TypeSmoothL1, smoothL1[T])
	register(ops.TypeSmoothL1Grad, smoothL1Grad[T])
}

// stateless returns a factory of kernels that need nothing besides the context.
func stateless(fn kernel.Func) kernel.Factory {
	return func(*kernel.Context) (kernel.Kernel, error) { return fn, nil }
}

func maxOf[T constraints.Ordered](x, y T) T {
	if x > y {
		return x
	}
	return y
}

func minOf[T constraints.Ordered](x, y T) T {
	if x < y {
		return x
	}
	return y
}

// input returns the flat data of an input.
func input[T numeric](ctx *kernel.Context, inputs map[string]*tensors.Tensor, binding string) ([]T, error) {
	t, found := inputs[binding]
	if !found {
		return nil, ctx.Errorf("missing input %s", binding)
	}
	return tensors.CopyFlatData[T](t)
}

// output creates an output tensor from its flat data.
func output[T numeric](ctx *kernel.Context, binding string, data []T) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(data, ctx.Outputs[binding].Shape.Dimensions...)
}
