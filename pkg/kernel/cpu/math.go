package cpu

import (
	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/kernel"
	"golang.org/x/exp/constraints"
)

// binary returns an elementwise kernel z = fn(x, y).
func binary[T numeric](fn func(x, y T) T) kernel.Func {
	return func(ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		x, err := input[T](ctx, inputs, "x_0")
		if err != nil {
			return nil, err
		}
		y, err := input[T](ctx, inputs, "y_0")
		if err != nil {
			return nil, err
		}
		if len(x) != len(y) {
			return nil, ctx.Errorf("x has %d elements and y %d", len(x), len(y))
		}
		z := make([]T, len(x))
		for i := range z {
			z[i] = fn(x[i], y[i])
		}
		return map[string]*tensors.Tensor{"z_0": output(ctx, "z_0", z)}, nil
	}
}

// binaryBackward returns the kernel routing dz to dx where takesX(x, y), and to dy elsewhere. Either
// output may be omitted.
func binaryBackward[T numeric](takesX func(x, y T) bool) kernel.Func {
	return func(ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		dz, err := input[T](ctx, inputs, "dz_0")
		if err != nil {
			return nil, err
		}
		x, err := input[T](ctx, inputs, "x_0")
		if err != nil {
			return nil, err
		}
		y, err := input[T](ctx, inputs, "y_0")
		if err != nil {
			return nil, err
		}
		dx, dy := make([]T, len(dz)), make([]T, len(dz))
		for i := range dz {
			if takesX(x[i], y[i]) {
				dx[i] = dz[i]
			} else {
				dy[i] = dz[i]
			}
		}
		outputs := make(map[string]*tensors.Tensor, 2)
		if _, found := ctx.Outputs["dx_0"]; found {
			outputs["dx_0"] = output(ctx, "dx_0", dx)
		}
		if _, found := ctx.Outputs["dy_0"]; found {
			outputs["dy_0"] = output(ctx, "dy_0", dy)
		}
		return outputs, nil
	}
}

// addN sums all its inputs.
func addN[T numeric](ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	var sum []T
	for _, binding := range ctx.InputBindings {
		in, err := input[T](ctx, inputs, binding)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = in
			continue
		}
		for i := range sum {
			sum[i] += in[i]
		}
	}
	return map[string]*tensors.Tensor{"out_0": output(ctx, "out_0", sum)}, nil
}

// fill returns a kernel with all outputs filled with value.
func fill[T numeric](value T) kernel.Kernel {
	return kernel.Func(func(ctx *kernel.Context, _ map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		outputs := make(map[string]*tensors.Tensor, len(ctx.OutputBindings))
		for _, binding := range ctx.OutputBindings {
			outputs[binding] = tensors.FromScalarAndDimensions(value, ctx.Outputs[binding].Shape.Dimensions...)
		}
		return outputs, nil
	})
}

// variable fills its output according to the "initializer" attribute.
func variable[T numeric](ctx *kernel.Context) (kernel.Kernel, error) {
	initializer, err := ctx.Conf.AttrString("initializer", "zeros")
	if err != nil {
		return nil, err
	}
	switch initializer {
	case "zeros":
		return fill(T(0)), nil
	case "ones":
		return fill(T(1)), nil
	case "constant":
		value, err := ctx.Conf.AttrFloat("value", 0)
		if err != nil {
			return nil, err
		}
		return fill(T(value)), nil
	}
	return nil, ctx.Errorf("unknown initializer %q", initializer)
}

// fillLike fills its output with the "value" attribute.
func fillLike[T numeric](ctx *kernel.Context) (kernel.Kernel, error) {
	value, err := ctx.Conf.AttrFloat("value", 0)
	if err != nil {
		return nil, err
	}
	return fill(T(value)), nil
}

func abs[T constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// smoothL1Params reads the "beta" and "scale" attributes.
func smoothL1Params[T constraints.Float](ctx *kernel.Context) (beta, scale T, err error) {
	betaAttr, err := ctx.Conf.AttrFloat("beta", 1)
	if err != nil {
		return
	}
	scaleAttr, err := ctx.Conf.AttrFloat("scale", 1)
	if err != nil {
		return
	}
	if betaAttr <= 0 {
		return 0, 0, ctx.Errorf("beta must be > 0, got %g", betaAttr)
	}
	return T(betaAttr), T(scaleAttr), nil
}

// smoothL1 computes scale * (0.5*d²/beta if |d| < beta, |d| - 0.5*beta otherwise), with d = prediction-label.
func smoothL1[T float32 | float64](ctx *kernel.Context) (kernel.Kernel, error) {
	beta, scale, err := smoothL1Params[T](ctx)
	if err != nil {
		return nil, err
	}
	return kernel.Func(func(ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		prediction, err := input[T](ctx, inputs, "prediction_0")
		if err != nil {
			return nil, err
		}
		label, err := input[T](ctx, inputs, "label_0")
		if err != nil {
			return nil, err
		}
		loss := make([]T, len(prediction))
		for i := range loss {
			d := abs(prediction[i] - label[i])
			if d < beta {
				loss[i] = scale * 0.5 * d * d / beta
			} else {
				loss[i] = scale * (d - 0.5*beta)
			}
		}
		return map[string]*tensors.Tensor{"loss_0": output(ctx, "loss_0", loss)}, nil
	}), nil
}

// smoothL1Grad computes the gradient of smoothL1 with respect to the prediction.
func smoothL1Grad[T float32 | float64](ctx *kernel.Context) (kernel.Kernel, error) {
	beta, scale, err := smoothL1Params[T](ctx)
	if err != nil {
		return nil, err
	}
	return kernel.Func(func(ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
		lossGrad, err := input[T](ctx, inputs, "loss_grad_0")
		if err != nil {
			return nil, err
		}
		prediction, err := input[T](ctx, inputs, "prediction_0")
		if err != nil {
			return nil, err
		}
		label, err := input[T](ctx, inputs, "label_0")
		if err != nil {
			return nil, err
		}
		grad := make([]T, len(prediction))
		for i := range grad {
			d := prediction[i] - label[i]
			switch {
			case abs(d) < beta:
				grad[i] = d / beta
			case d > 0:
				grad[i] = 1
			default:
				grad[i] = -1
			}
			grad[i] *= scale * lossGrad[i]
		}
		return map[string]*tensors.Tensor{"prediction_grad_0": output(ctx, "prediction_grad_0", grad)}, nil
	}), nil
}
