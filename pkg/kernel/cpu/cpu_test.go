package cpu_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/kernel"
	_ "github.com/gomlx/jobflow/pkg/kernel/cpu"
	"github.com/gomlx/jobflow/pkg/ops"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newKernel creates the CPU kernel of conf, with the blobs described by descs.
func newKernel(t *testing.T, conf op.Conf, descs map[string]shapes.Shape) (*kernel.Context, kernel.Kernel) {
	ctx, err := kernel.NewContext(conf, placement.DeviceTypeCPU, placement.SingleDevice,
		func(lbn string) (op.BlobDesc, error) {
			shape, found := descs[lbn]
			if !found {
				return op.BlobDesc{}, errors.Errorf("no shape for %q", lbn)
			}
			return op.BlobDesc{Shape: shape}, nil
		})
	require.NoError(t, err)
	k, err := kernel.Default.New(ctx)
	require.NoError(t, err)
	return ctx, k
}

func compute(t *testing.T, ctx *kernel.Context, k kernel.Kernel, inputs map[string]*tensors.Tensor) map[string]*tensors.Tensor {
	outputs, err := k.Compute(ctx, inputs)
	require.NoError(t, err)
	return outputs
}

func TestElementwise(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 4)
	descs := map[string]shapes.Shape{"a/out_0": shape, "b/out_0": shape, "m/z_0": shape}
	a := tensors.FromFlatDataAndDimensions([]float32{1, 5, -2, 3}, 4)
	b := tensors.FromFlatDataAndDimensions([]float32{2, 4, -2, 0}, 4)

	ctx, k := newKernel(t, ops.MaximumConf("m", "a/out_0", "b/out_0"), descs)
	z := compute(t, ctx, k, map[string]*tensors.Tensor{"x_0": a, "y_0": b})["z_0"]
	assert.Equal(t, []float32{2, 5, -2, 3}, tensors.MustCopyFlatData[float32](z))

	ctx, k = newKernel(t, ops.MinimumConf("m", "a/out_0", "b/out_0"), descs)
	z = compute(t, ctx, k, map[string]*tensors.Tensor{"x_0": a, "y_0": b})["z_0"]
	assert.Equal(t, []float32{1, 4, -2, 0}, tensors.MustCopyFlatData[float32](z))

	// Backward with only dy: ties go to y.
	descs["dz/out_0"] = shape
	descs["g/dy_0"] = shape
	conf := op.Conf{Name: "g", Type: ops.TypeMaximumBackward,
		Inputs:  map[string][]string{"dz": {"dz/out_0"}, "x": {"a/out_0"}, "y": {"b/out_0"}},
		Outputs: map[string]int{"dy": 1}}
	ctx, k = newKernel(t, conf, descs)
	dz := tensors.FromScalarAndDimensions(float32(10), 4)
	outputs := compute(t, ctx, k, map[string]*tensors.Tensor{"dz_0": dz, "x_0": a, "y_0": b})
	require.Len(t, outputs, 1)
	assert.Equal(t, []float32{10, 0, 10, 0}, tensors.MustCopyFlatData[float32](outputs["dy_0"]))
}

func TestDataMovement(t *testing.T) {
	in := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	ctx, k := newKernel(t, ops.TransposeConf("tr", "x/out_0", []int{1, 0}), map[string]shapes.Shape{
		"x/out_0": in.Shape(), "tr/out_0": shapes.Make(dtypes.Int32, 3, 2)})
	out := compute(t, ctx, k, map[string]*tensors.Tensor{"in_0": in})["out_0"]
	assert.Equal(t, []int32{1, 4, 2, 5, 3, 6}, tensors.MustCopyFlatData[int32](out))

	ctx, k = newKernel(t, ops.IdentityConf("id", "x/out_0"), map[string]shapes.Shape{
		"x/out_0": in.Shape(), "id/out_0": in.Shape()})
	assert.True(t, in.Equal(compute(t, ctx, k, map[string]*tensors.Tensor{"in_0": in})["out_0"]))

	ctx, k = newKernel(t, ops.TickConf("sink", ops.TypeSinkTick, "a/out_0"), map[string]shapes.Shape{
		"a/out_0": ops.TickShape, "sink/out_0": ops.TickShape})
	tick := compute(t, ctx, k, map[string]*tensors.Tensor{"tick_0": tensors.FromShape(ops.TickShape)})["out_0"]
	assert.Equal(t, ops.TickShape, tick.Shape())
}

func TestSources(t *testing.T) {
	shape := shapes.Make(dtypes.Int64, 3)
	variable := ops.VariableConf("w", shape)
	variable.Attrs["initializer"] = "constant"
	variable.Attrs["value"] = 7
	ctx, k := newKernel(t, variable, map[string]shapes.Shape{"w/out_0": shape})
	w := compute(t, ctx, k, nil)["out_0"]
	assert.Equal(t, []int64{7, 7, 7}, tensors.MustCopyFlatData[int64](w))

	ctx, k = newKernel(t, ops.InputConf("x", shape), map[string]shapes.Shape{"x/out_0": shape})
	assert.Equal(t, []int64{0, 0, 0}, tensors.MustCopyFlatData[int64](compute(t, ctx, k, nil)["out_0"]))

	ctx, k = newKernel(t, ops.FillLikeConf("f", "w/out_0", 2), map[string]shapes.Shape{
		"w/out_0": shape, "f/out_0": shape})
	f := compute(t, ctx, k, map[string]*tensors.Tensor{"like_0": w})["out_0"]
	assert.Equal(t, []int64{2, 2, 2}, tensors.MustCopyFlatData[int64](f))

	ctx, k = newKernel(t, ops.AddNConf("sum", "w/out_0", "f/out_0", "w/out_0"), map[string]shapes.Shape{
		"w/out_0": shape, "f/out_0": shape, "sum/out_0": shape})
	sum := compute(t, ctx, k, map[string]*tensors.Tensor{"in_0": w, "in_1": f, "in_2": w})["out_0"]
	assert.Equal(t, []int64{16, 16, 16}, tensors.MustCopyFlatData[int64](sum))
}

func TestSmoothL1(t *testing.T) {
	shape := shapes.Make(dtypes.Float64, 2)
	descs := map[string]shapes.Shape{"p/out_0": shape, "l/out_0": shape, "loss/loss_0": shape,
		"dl/out_0": shape, "loss_grad/prediction_grad_0": shape}
	p := tensors.FromFlatDataAndDimensions([]float64{0, 3}, 2)
	l := tensors.FromFlatDataAndDimensions([]float64{0.5, 0}, 2)

	ctx, k := newKernel(t, ops.SmoothL1Conf("loss", "p/out_0", "l/out_0", 1), descs)
	loss := compute(t, ctx, k, map[string]*tensors.Tensor{"prediction_0": p, "label_0": l})["loss_0"]
	assert.InDeltaSlice(t, []float64{0.125, 2.5}, tensors.MustCopyFlatData[float64](loss), 1e-9)

	grad := op.Conf{Name: "loss_grad", Type: ops.TypeSmoothL1Grad,
		Inputs: map[string][]string{"loss_grad": {"dl/out_0"}, "prediction": {"p/out_0"}, "label": {"l/out_0"}},
		Attrs:  map[string]any{"beta": 1.0}}
	ctx, k = newKernel(t, grad, descs)
	ones := tensors.FromScalarAndDimensions(1.0, 2)
	dp := compute(t, ctx, k, map[string]*tensors.Tensor{"loss_grad_0": ones, "prediction_0": p, "label_0": l})
	assert.InDeltaSlice(t, []float64{-0.5, 1}, tensors.MustCopyFlatData[float64](dp["prediction_grad_0"]), 1e-9)
}

func TestNoKernel(t *testing.T) {
	shape := shapes.Make(dtypes.Int32, 2)
	ctx := must.M1(kernel.NewContext(ops.SmoothL1Conf("loss", "p/out_0", "l/out_0", 1), placement.DeviceTypeCPU,
		placement.SingleDevice, func(string) (op.BlobDesc, error) { return op.BlobDesc{Shape: shape}, nil }))
	_, err := kernel.Default.New(ctx)
	var notFound *kernel.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, kernel.Key{OpType: ops.TypeSmoothL1, DeviceType: placement.DeviceTypeCPU, DType: dtypes.Int32},
		notFound.Key)

	ctx.DeviceType = placement.DeviceTypeGPU
	ctx.Conf = ops.IdentityConf("id", "p/out_0")
	_, err = kernel.Default.New(ctx)
	require.ErrorContains(t, err, "(identity, gpu, Int32)")
}
