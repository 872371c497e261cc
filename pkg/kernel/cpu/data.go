package cpu

import (
	"reflect"

	"github.com/gomlx/jobflow/pkg/core/tensors"
	"github.com/gomlx/jobflow/pkg/kernel"
)

// passThrough returns its single input as its single output: tensors are immutable once produced.
func passThrough(ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	in, found := inputs["in_0"]
	if !found {
		return nil, ctx.Errorf("missing input in_0")
	}
	return map[string]*tensors.Tensor{"out_0": in}, nil
}

// tick outputs a zero tick, whatever the inputs.
func tick(ctx *kernel.Context, _ map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	return ctx.NewOutputs(), nil
}

// zeros outputs zeros: real input data is fed from outside the job.
func zeros(ctx *kernel.Context, _ map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	return ctx.NewOutputs(), nil
}

// transpose permutes the axes of its input: output axis i is input axis perm[i].
func transpose(ctx *kernel.Context, inputs map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	in, found := inputs["in_0"]
	if !found {
		return nil, ctx.Errorf("missing input in_0")
	}
	perm, err := ctx.Conf.AttrInts("perm", nil)
	if err != nil {
		return nil, err
	}
	inShape := in.Shape()
	if len(perm) != inShape.Rank() {
		return nil, ctx.Errorf("perm %v doesn't match input shape %s", perm, inShape)
	}
	outputs := ctx.NewOutputs()
	out := outputs["out_0"]
	inStrides := in.LayoutStrides()
	in.ConstFlatData(func(src any) {
		out.MutableFlatData(func(dst any) {
			srcV, dstV := reflect.ValueOf(src), reflect.ValueOf(dst)
			for outIdx, indices := range out.Shape().Iter() {
				srcIdx := 0
				for axis, idx := range indices {
					srcIdx += idx * inStrides[perm[axis]]
				}
				dstV.Index(outIdx).Set(srcV.Index(srcIdx))
			}
		})
	})
	return outputs, nil
}
