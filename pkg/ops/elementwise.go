package ops

import (
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
)

func init() {
	registerElementwiseBinary(TypeMaximum)
	registerElementwiseBinary(TypeMinimum)
}

// registerElementwiseBinary registers a binary elementwise type, its backward type and gradient generation.
func registerElementwiseBinary(opType string) {
	op.Register(op.Def{
		Type:    opType,
		Inputs:  []op.ArgDef{{Name: "x"}, {Name: "y"}},
		Outputs: []op.ArgDef{{Name: "z"}},
		InferBlobDescs: func(ctx *op.Context) error {
			if err := sameShapeInputs(ctx); err != nil {
				return err
			}
			ctx.Output("z", 0).Shape = ctx.Input("x", 0).Shape.Clone()
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			return splitEachAxis(ctx, ctx.Input("x", 0).Shape.Rank(), sbp.AllBroadcast(ctx.Bindings()...)), nil
		},
		GenBackward: elementwiseBinaryGrad(opType + BackwardSuffix),
	})

	op.Register(op.Def{
		Type:    opType + BackwardSuffix,
		Inputs:  []op.ArgDef{{Name: "dz"}, {Name: "x"}, {Name: "y"}},
		Outputs: []op.ArgDef{{Name: "dx", Optional: true}, {Name: "dy", Optional: true}},
		NoGrad:  true,
		InferBlobDescs: func(ctx *op.Context) error {
			x, y, dz := ctx.Input("x", 0).Shape, ctx.Input("y", 0).Shape, ctx.Input("dz", 0).Shape
			if !x.EqualDimensions(y) {
				return ctx.Errorf("shapes of x and y must be the same")
			}
			if ctx.HasOutput("dx", 0) {
				out := ctx.Output("dx", 0)
				out.Shape = x.Clone()
				out.Shape.DType = dz.DType
			}
			if ctx.HasOutput("dy", 0) {
				out := ctx.Output("dy", 0)
				out.Shape = y.Clone()
				out.Shape.DType = dz.DType
			}
			return nil
		},
		InferBatchAxis: func(ctx *op.Context) error {
			dz := ctx.Input("dz", 0)
			if err := dz.BatchAxis.ValidFor(dz.Shape); err != nil {
				return ctx.Errorf("dz: %v", err)
			}
			batchAxis := dz.BatchAxis
			if !batchAxis.IsKnown() {
				batchAxis = op.NoBatchAxis()
			}
			op.SetAllOutputsBatchAxis(ctx, batchAxis)
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			x, y := ctx.Input("x", 0).Shape, ctx.Input("y", 0).Shape
			bindings := ctx.Bindings()
			var candidates sbp.SignatureList
			for axis := range x.Rank() {
				if x.Dimensions[axis] == 1 && y.Dimensions[axis] == 1 {
					continue
				}
				if x.Dimensions[axis] != y.Dimensions[axis] {
					return nil, ctx.Errorf("x and y differ on axis %d, broadcasting not supported", axis)
				}
				candidates = append(candidates, sbp.AllSplit(axis, bindings...))
			}
			return append(candidates, sbp.AllBroadcast(bindings...)), nil
		},
	})
}

// elementwiseBinaryGrad defines one backward operator named "<op>_grad" computing the gradients of whichever
// of x and y need it.
func elementwiseBinaryGrad(backwardType string) func(o *op.Operator, ctx op.GradContext) error {
	return func(o *op.Operator, ctx op.GradContext) error {
		xNeedGrad, yNeedGrad := ctx.NeedGrad("x", 0), ctx.NeedGrad("y", 0)
		dz, found := ctx.OutputGrad("z", 0)
		if !found || (!xNeedGrad && !yNeedGrad) {
			return nil
		}
		x, _ := o.InputLBN("x", 0)
		y, _ := o.InputLBN("y", 0)
		gradName := GradOpName(o.Name())
		conf := op.Conf{
			Name:      gradName,
			Type:      backwardType,
			Inputs:    map[string][]string{"dz": {dz}, "x": {x}, "y": {y}},
			Outputs:   map[string]int{},
			Placement: o.Placement(),
		}
		if xNeedGrad {
			conf.Outputs["dx"] = 1
		}
		if yNeedGrad {
			conf.Outputs["dy"] = 1
		}
		if err := ctx.DefineOp(conf); err != nil {
			return err
		}
		if xNeedGrad {
			ctx.BindInputGrad("x", 0, op.MakeLBN(gradName, "dx", 0))
		}
		if yNeedGrad {
			ctx.BindInputGrad("y", 0, op.MakeLBN(gradName, "dy", 0))
		}
		return nil
	}
}

// MaximumConf returns the configuration of an elementwise maximum of x and y.
func MaximumConf(name, x, y string) op.Conf {
	return op.Conf{Name: name, Type: TypeMaximum, Inputs: map[string][]string{"x": {x}, "y": {y}}}
}

// MinimumConf returns the configuration of an elementwise minimum of x and y.
func MinimumConf(name, x, y string) op.Conf {
	return op.Conf{Name: name, Type: TypeMinimum, Inputs: map[string][]string{"x": {x}, "y": {y}}}
}
