package ops

import (
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
)

// Unfold2DParams are the window parameters of an unfold_2d operator, for the two spatial axes.
type Unfold2DParams struct {
	KernelSize    [2]int
	Strides       [2]int
	DilationRate  [2]int
	Padding       string
	PaddingBefore [2]int
	PaddingAfter  [2]int
	CeilMode      bool
}

func init() {
	op.Register(op.Def{
		Type:    TypeUnfold2D,
		Inputs:  []op.ArgDef{{Name: "x"}},
		Outputs: []op.ArgDef{{Name: "y"}},
		Validate: func(conf *op.Conf) error {
			_, err := ParseUnfold2DParams(conf)
			return err
		},
		InferBlobDescs: func(ctx *op.Context) error {
			params, err := ParseUnfold2DParams(ctx.Conf())
			if err != nil {
				return err
			}
			y, err := params.OutputShape(ctx.Input("x", 0).Shape)
			if err != nil {
				return ctx.Errorf("%v", err)
			}
			ctx.Output("y", 0).Shape = y
			return nil
		},
		InferBatchAxis:   batchAxisIfFirst("x"),
		GetSbpSignatures: splitBatchOrBroadcast,
		GenBackward: func(o *op.Operator, ctx op.GradContext) error {
			if !ctx.NeedGrad("x", 0) {
				return nil
			}
			dy, found := ctx.OutputGrad("y", 0)
			if !found {
				return nil
			}
			x, _ := o.InputLBN("x", 0)
			gradName := GradOpName(o.Name())
			conf := o.Conf()
			err := ctx.DefineOp(op.Conf{
				Name:      gradName,
				Type:      TypeUnfold2DGrad,
				Inputs:    map[string][]string{"dy": {dy}, "x": {x}},
				Attrs:     conf.Attrs,
				Placement: o.Placement(),
			})
			if err != nil {
				return err
			}
			ctx.BindInputGrad("x", 0, op.MakeLBN(gradName, "dx", 0))
			return nil
		},
	})

	op.Register(op.Def{
		Type:    TypeUnfold2DGrad,
		Inputs:  []op.ArgDef{{Name: "dy"}, {Name: "x"}},
		Outputs: []op.ArgDef{{Name: "dx"}},
		NoGrad:  true,
		Validate: func(conf *op.Conf) error {
			_, err := ParseUnfold2DParams(conf)
			return err
		},
		InferBlobDescs: func(ctx *op.Context) error {
			params, err := ParseUnfold2DParams(ctx.Conf())
			if err != nil {
				return err
			}
			x, dy := ctx.Input("x", 0).Shape, ctx.Input("dy", 0).Shape
			y, err := params.OutputShape(x)
			if err != nil {
				return ctx.Errorf("%v", err)
			}
			if !y.EqualDimensions(dy) {
				return ctx.Errorf("dy shape %s doesn't match unfold output %s", dy, y)
			}
			dx := x.Clone()
			dx.DType = dy.DType
			ctx.Output("dx", 0).Shape = dx
			return nil
		},
		InferBatchAxis:   batchAxisIfFirst("x"),
		GetSbpSignatures: splitBatchOrBroadcast,
	})
}

// ParseUnfold2DParams reads and validates the window attributes: "kernel_size" (required), "strides",
// "dilation_rate", "padding" ("valid", "same" or "customized" with "padding_before"/"padding_after"),
// "ceil_mode" and "data_format" (only "channels_first" is supported).
func ParseUnfold2DParams(conf *op.Conf) (params Unfold2DParams, err error) {
	if err = conf.RequireAttrs("kernel_size"); err != nil {
		return
	}
	pairs := []struct {
		name   string
		target *[2]int
		dflt   []int
		min    int
	}{
		{"kernel_size", &params.KernelSize, nil, 1},
		{"strides", &params.Strides, []int{1, 1}, 1},
		{"dilation_rate", &params.DilationRate, []int{1, 1}, 1},
		{"padding_before", &params.PaddingBefore, []int{0, 0}, 0},
		{"padding_after", &params.PaddingAfter, []int{0, 0}, 0},
	}
	for _, pair := range pairs {
		values, err := conf.AttrInts(pair.name, pair.dflt)
		if err != nil {
			return params, err
		}
		if len(values) != 2 {
			return params, conf.Errorf("attribute %q must have 2 values, got %v", pair.name, values)
		}
		for _, v := range values {
			if v < pair.min {
				return params, conf.Errorf("attribute %q values must be >= %d, got %v", pair.name, pair.min, values)
			}
		}
		copy(pair.target[:], values)
	}
	if params.Padding, err = conf.AttrString("padding", "valid"); err != nil {
		return
	}
	switch params.Padding {
	case "valid", "same", "customized":
	default:
		return params, conf.Errorf("unknown padding %q", params.Padding)
	}
	if params.CeilMode, err = conf.AttrBool("ceil_mode", false); err != nil {
		return
	}
	dataFormat, err := conf.AttrString("data_format", "channels_first")
	if err != nil {
		return
	}
	if dataFormat != "channels_first" {
		return params, conf.Errorf("data_format %q not supported, only \"channels_first\"", dataFormat)
	}
	return params, nil
}

// WindowedOutputSize returns the number of windows along one axis of size inputSize, and the padding
// effectively used before and after.
func (p Unfold2DParams) WindowedOutputSize(axis, inputSize int) (outputSize, padBefore, padAfter int) {
	k, s, d := p.KernelSize[axis], p.Strides[axis], p.DilationRate[axis]
	effectiveKernel := (k-1)*d + 1
	switch p.Padding {
	case "same":
		outputSize = (inputSize + s - 1) / s
		needed := max(0, (outputSize-1)*s+effectiveKernel-inputSize)
		padBefore = needed / 2
		padAfter = needed - padBefore
		return
	case "customized":
		padBefore, padAfter = p.PaddingBefore[axis], p.PaddingAfter[axis]
	}
	span := inputSize + padBefore + padAfter - effectiveKernel
	if span < 0 {
		return 0, padBefore, padAfter
	}
	if p.CeilMode {
		outputSize = (span+s-1)/s + 1
	} else {
		outputSize = span/s + 1
	}
	return
}

// OutputShape returns the shape of the unfolded x: x is [N, C, H, W] and the output is
// [N, C*KH*KW, OH*OW].
func (p Unfold2DParams) OutputShape(x shapes.Shape) (shapes.Shape, error) {
	if x.Rank() != 4 {
		return shapes.Shape{}, errorf("unfold_2d requires a rank-4 [N, C, H, W] input, got %s", x)
	}
	oh, _, _ := p.WindowedOutputSize(0, x.Dimensions[2])
	ow, _, _ := p.WindowedOutputSize(1, x.Dimensions[3])
	if oh <= 0 || ow <= 0 {
		return shapes.Shape{}, errorf("unfold_2d window %v doesn't fit input %s", p.KernelSize, x)
	}
	return shapes.MakeChecked(x.DType, x.Dimensions[0],
		x.Dimensions[1]*p.KernelSize[0]*p.KernelSize[1], oh*ow)
}

// batchAxisIfFirst keeps the batch axis of the input if it is axis 0, the only axis preserved.
func batchAxisIfFirst(input string) func(ctx *op.Context) error {
	return func(ctx *op.Context) error {
		batchAxis := op.NoBatchAxis()
		if in := ctx.Input(input, 0).BatchAxis; in.HasAxis() && in.Axis() == 0 {
			batchAxis = in
		}
		op.SetAllOutputsBatchAxis(ctx, batchAxis)
		return nil
	}
}

// splitBatchOrBroadcast returns candidates splitting every binding on axis 0, and all-broadcast.
func splitBatchOrBroadcast(ctx *op.Context) (sbp.SignatureList, error) {
	bindings := ctx.Bindings()
	return sbp.SignatureList{sbp.AllSplit(0, bindings...), sbp.AllBroadcast(bindings...)}, nil
}

// Unfold2DConf returns the configuration of an unfold_2d of x with the given kernel size and strides and
// "valid" padding.
func Unfold2DConf(name, x string, kernelSize, strides []int) op.Conf {
	return op.Conf{Name: name, Type: TypeUnfold2D, Inputs: map[string][]string{"x": {x}},
		Attrs: map[string]any{"kernel_size": kernelSize, "strides": strides}}
}
