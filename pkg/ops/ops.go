// Package ops registers the operator types known to the compiler: sources (input, variable, model_load,
// fill_like), data movement (identity, transpose, boxing), math (elementwise maximum and minimum,
// add_n, smooth_l1, unfold_2d) and control (tick, sink_tick), with their backward operators.
//
// Importing the package (even with a blank import) registers them with the op package.
package ops

import (
	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Operator type names.
const (
	TypeInput           = "input"
	TypeVariable        = "variable"
	TypeModelLoad       = "model_load"
	TypeFillLike        = "fill_like"
	TypeIdentity        = "identity"
	TypeTranspose       = "transpose"
	TypeBoxing          = "boxing"
	TypeAddN            = "add_n"
	TypeMaximum         = "elementwise_maximum"
	TypeMinimum         = "elementwise_minimum"
	TypeMaximumBackward = TypeMaximum + BackwardSuffix
	TypeMinimumBackward = TypeMinimum + BackwardSuffix
	TypeSmoothL1        = "smooth_l1"
	TypeSmoothL1Grad    = TypeSmoothL1 + GradSuffix
	TypeUnfold2D        = "unfold_2d"
	TypeUnfold2DGrad    = TypeUnfold2D + GradSuffix
	TypeTick            = "tick"
	TypeSinkTick        = "sink_tick"
)

// BackwardSuffix is appended to a forward type to name its backward type, and GradSuffix to name a grad type
// or the gradient operator generated for a forward operator.
const (
	BackwardSuffix = "_backward"
	GradSuffix     = "_grad"
)

// GradOpName returns the name of the gradient operator generated for the forward operator opName.
func GradOpName(opName string) string { return opName + GradSuffix }

// TickShape is the shape of tick blobs.
var TickShape = shapes.Make(dtypes.Int8, 1)

// shapeFromAttrs reads the "shape" and "dtype" attributes.
func shapeFromAttrs(conf *op.Conf) (shapes.Shape, error) {
	if err := conf.RequireAttrs("shape"); err != nil {
		return shapes.Shape{}, err
	}
	dims, err := conf.AttrInts("shape", nil)
	if err != nil {
		return shapes.Shape{}, err
	}
	dtypeName, err := conf.AttrString("dtype", dtypes.Float32.String())
	if err != nil {
		return shapes.Shape{}, err
	}
	dtype, err := dtypes.FromName(dtypeName)
	if err != nil {
		return shapes.Shape{}, conf.Errorf("%v", err)
	}
	shape, err := shapes.MakeChecked(dtype, dims...)
	if err != nil {
		return shapes.Shape{}, conf.Errorf("%v", err)
	}
	return shape, nil
}

// shapeAttr returns the shapeFromAttrs, assuming it was validated already.
func shapeAttr(conf *op.Conf) shapes.Shape {
	shape, err := shapeFromAttrs(conf)
	if err != nil {
		panic(err)
	}
	return shape
}

func validateShapeAttrs(conf *op.Conf) error {
	_, err := shapeFromAttrs(conf)
	return err
}

// splitEachAxis returns one candidate per axis of the given rank with every binding split on that axis,
// followed by the extra candidates.
func splitEachAxis(ctx *op.Context, rank int, extra ...sbp.Signature) sbp.SignatureList {
	bindings := ctx.Bindings()
	candidates := make(sbp.SignatureList, 0, rank+len(extra))
	for axis := range rank {
		candidates = append(candidates, sbp.AllSplit(axis, bindings...))
	}
	return append(candidates, extra...)
}

// sameShapeInputs returns an error if the inputs don't all have the same shape.
func sameShapeInputs(ctx *op.Context) error {
	inputs := ctx.InputShapes()
	for i := 1; i < len(inputs); i++ {
		if !inputs[0].Equal(inputs[i]) {
			return ctx.Errorf("inputs must have the same shape and dtype")
		}
	}
	return nil
}

// passThroughGrad binds the gradient of output out_0 as the gradient of input in_0.
func passThroughGrad(o *op.Operator, ctx op.GradContext) error {
	if !ctx.NeedGrad("in", 0) {
		return nil
	}
	grad, found := ctx.OutputGrad("out", 0)
	if !found {
		return nil
	}
	ctx.BindInputGrad("in", 0, grad)
	return nil
}

func errorf(format string, args ...any) error {
	return errors.Errorf(format, args...)
}
