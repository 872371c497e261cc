package ops

import (
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
)

func init() {
	op.Register(op.Def{
		Type:     TypeSmoothL1,
		Inputs:   []op.ArgDef{{Name: "prediction"}, {Name: "label"}},
		Outputs:  []op.ArgDef{{Name: "loss"}},
		Validate: validateSmoothL1,
		InferBlobDescs: func(ctx *op.Context) error {
			if err := sameShapeInputs(ctx); err != nil {
				return err
			}
			ctx.Output("loss", 0).Shape = ctx.Input("prediction", 0).Shape.Clone()
			return nil
		},
		GetSbpSignatures: dataParallelOnly("prediction"),
		GenBackward: func(o *op.Operator, ctx op.GradContext) error {
			if !ctx.NeedGrad("prediction", 0) {
				return nil
			}
			dloss, found := ctx.OutputGrad("loss", 0)
			if !found {
				return nil
			}
			conf := o.Conf()
			prediction, _ := o.InputLBN("prediction", 0)
			label, _ := o.InputLBN("label", 0)
			gradName := GradOpName(o.Name())
			err := ctx.DefineOp(op.Conf{
				Name: gradName,
				Type: TypeSmoothL1Grad,
				Inputs: map[string][]string{
					"loss_grad": {dloss}, "prediction": {prediction}, "label": {label}},
				Attrs: map[string]any{
					"beta":  conf.MustAttrFloat("beta", 1),
					"scale": conf.MustAttrFloat("scale", 1)},
				Placement: o.Placement(),
			})
			if err != nil {
				return err
			}
			ctx.BindInputGrad("prediction", 0, op.MakeLBN(gradName, "prediction_grad", 0))
			return nil
		},
	})

	op.Register(op.Def{
		Type:     TypeSmoothL1Grad,
		Inputs:   []op.ArgDef{{Name: "loss_grad"}, {Name: "prediction"}, {Name: "label"}},
		Outputs:  []op.ArgDef{{Name: "prediction_grad"}},
		NoGrad:   true,
		Validate: validateSmoothL1,
		InferBlobDescs: func(ctx *op.Context) error {
			if err := sameShapeInputs(ctx); err != nil {
				return err
			}
			ctx.Output("prediction_grad", 0).Shape = ctx.Input("prediction", 0).Shape.Clone()
			return nil
		},
		GetSbpSignatures: dataParallelOnly("prediction"),
	})
}

func validateSmoothL1(conf *op.Conf) error {
	beta, err := conf.AttrFloat("beta", 1)
	if err != nil {
		return err
	}
	if beta <= 0 {
		return conf.Errorf("beta must be > 0, got %g", beta)
	}
	_, err = conf.AttrFloat("scale", 1)
	return err
}

// dataParallelOnly returns candidates where every binding is split on the batch axis of the given input,
// if it has one, or broadcast: inputs are never split along other (model) axes.
func dataParallelOnly(batchInput string) func(ctx *op.Context) (sbp.SignatureList, error) {
	return func(ctx *op.Context) (sbp.SignatureList, error) {
		bindings := ctx.Bindings()
		var candidates sbp.SignatureList
		if batchAxis := ctx.Input(batchInput, 0).BatchAxis; batchAxis.HasAxis() {
			candidates = append(candidates, sbp.AllSplit(batchAxis.Axis(), bindings...))
		}
		return append(candidates, sbp.AllBroadcast(bindings...)), nil
	}
}

// SmoothL1Conf returns the configuration of the element-wise smooth L1 loss between prediction and label.
func SmoothL1Conf(name, prediction, label string, beta float64) op.Conf {
	return op.Conf{Name: name, Type: TypeSmoothL1,
		Inputs: map[string][]string{"prediction": {prediction}, "label": {label}},
		Attrs:  map[string]any{"beta": beta}}
}
