package ops

import (
	"slices"

	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
)

func init() {
	op.Register(op.Def{
		Type:    TypeTranspose,
		Inputs:  []op.ArgDef{{Name: "in"}},
		Outputs: []op.ArgDef{{Name: "out"}},
		Validate: func(conf *op.Conf) error {
			if err := conf.RequireAttrs("perm"); err != nil {
				return err
			}
			perm, err := conf.AttrInts("perm", nil)
			if err != nil {
				return err
			}
			return validatePerm(conf, perm)
		},
		InferBlobDescs: func(ctx *op.Context) error {
			in := ctx.Input("in", 0).Shape
			perm := ctx.Conf().MustAttrInts("perm", nil)
			if len(perm) != in.Rank() {
				return ctx.Errorf("perm %v has %d axes, input has rank %d", perm, len(perm), in.Rank())
			}
			out := in.Clone()
			for i, axis := range perm {
				out.Dimensions[i] = in.Dimensions[axis]
			}
			ctx.Output("out", 0).Shape = out
			return nil
		},
		InferBatchAxis: func(ctx *op.Context) error {
			in := ctx.Input("in", 0).BatchAxis
			out := op.NoBatchAxis()
			if in.HasAxis() {
				perm := ctx.Conf().MustAttrInts("perm", nil)
				if idx := slices.Index(perm, in.Axis()); idx >= 0 {
					out = op.BatchAxisAt(idx)
				}
			}
			ctx.Output("out", 0).BatchAxis = out
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			perm := ctx.Conf().MustAttrInts("perm", nil)
			var candidates sbp.SignatureList
			for outAxis, inAxis := range perm {
				candidates = append(candidates, sbp.Signature{"in_0": sbp.Split(inAxis), "out_0": sbp.Split(outAxis)})
			}
			return append(candidates,
				sbp.Signature{"in_0": sbp.Broadcast(), "out_0": sbp.Broadcast()},
				sbp.Signature{"in_0": sbp.PartialSum(), "out_0": sbp.PartialSum()}), nil
		},
		GenBackward: func(o *op.Operator, ctx op.GradContext) error {
			if !ctx.NeedGrad("in", 0) {
				return nil
			}
			dout, found := ctx.OutputGrad("out", 0)
			if !found {
				return nil
			}
			conf := o.Conf()
			perm := conf.MustAttrInts("perm", nil)
			gradName := GradOpName(o.Name())
			gradConf := TransposeConf(gradName, dout, InversePermutation(perm))
			gradConf.Placement = o.Placement()
			if err := ctx.DefineOp(gradConf); err != nil {
				return err
			}
			ctx.BindInputGrad("in", 0, op.MakeLBN(gradName, "out", 0))
			return nil
		},
	})
}

func validatePerm(conf *op.Conf, perm []int) error {
	seen := make([]bool, len(perm))
	for _, axis := range perm {
		if axis < 0 || axis >= len(perm) || seen[axis] {
			return conf.Errorf("perm %v is not a permutation", perm)
		}
		seen[axis] = true
	}
	return nil
}

// InversePermutation returns the permutation that undoes perm.
func InversePermutation(perm []int) []int {
	inverse := make([]int, len(perm))
	for i, axis := range perm {
		inverse[axis] = i
	}
	return inverse
}

// TransposeConf returns the configuration of a transpose of in, where output axis i is input axis perm[i].
func TransposeConf(name, in string, perm []int) op.Conf {
	return op.Conf{Name: name, Type: TypeTranspose, Inputs: map[string][]string{"in": {in}},
		Attrs: map[string]any{"perm": slices.Clone(perm)}}
}
