package ops

import (
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
)

func init() {
	op.Register(op.Def{
		Type:    TypeIdentity,
		Inputs:  []op.ArgDef{{Name: "in"}},
		Outputs: []op.ArgDef{{Name: "out"}},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			return splitEachAxis(ctx, ctx.Input("in", 0).Shape.Rank(),
				sbp.AllBroadcast(ctx.Bindings()...),
				sbp.Build().PartialSum(ctx.Bindings()...).MustDone()), nil
		},
		GenBackward: passThroughGrad,
	})

	op.Register(op.Def{
		Type:    TypeAddN,
		Inputs:  []op.ArgDef{{Name: "in", Repeated: true}},
		Outputs: []op.ArgDef{{Name: "out"}},
		InferBlobDescs: func(ctx *op.Context) error {
			if err := sameShapeInputs(ctx); err != nil {
				return err
			}
			ctx.Output("out", 0).Shape = ctx.Input("in", 0).Shape.Clone()
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			return splitEachAxis(ctx, ctx.Input("in", 0).Shape.Rank(),
				sbp.AllBroadcast(ctx.Bindings()...),
				sbp.Build().PartialSum(ctx.Bindings()...).MustDone()), nil
		},
		GenBackward: func(o *op.Operator, ctx op.GradContext) error {
			dout, found := ctx.OutputGrad("out", 0)
			if !found {
				return nil
			}
			for _, b := range o.InputBindings() {
				if ctx.NeedGrad(b.Arg, b.Index) {
					ctx.BindInputGrad(b.Arg, b.Index, dout)
				}
			}
			return nil
		},
	})

	op.Register(op.Def{
		Type:    TypeBoxing,
		Inputs:  []op.ArgDef{{Name: "in"}},
		Outputs: []op.ArgDef{{Name: "out"}},
		Validate: func(conf *op.Conf) error {
			_, _, err := boxingParallels(conf)
			return err
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			from, to, err := boxingParallels(ctx.Conf())
			if err != nil {
				return nil, err
			}
			return sbp.SignatureList{{"in_0": from, "out_0": to}}, nil
		},
		GenBackward: passThroughGrad,
	})

	for _, tickType := range []string{TypeTick, TypeSinkTick} {
		op.Register(op.Def{
			Type:    tickType,
			Inputs:  []op.ArgDef{{Name: "tick", Optional: true, Repeated: true}},
			Outputs: []op.ArgDef{{Name: "out"}},
			NoGrad:  true,
			InferBlobDescs: func(ctx *op.Context) error {
				ctx.Output("out", 0).Shape = TickShape.Clone()
				return nil
			},
			InferBatchAxis: func(ctx *op.Context) error {
				ctx.Output("out", 0).BatchAxis = op.NoBatchAxis()
				return nil
			},
		})
	}
}

// boxingParallels reads the "from" and "to" attributes of a boxing operator.
func boxingParallels(conf *op.Conf) (from, to sbp.Parallel, err error) {
	if err = conf.RequireAttrs("from", "to"); err != nil {
		return
	}
	fromText, err := conf.AttrString("from", "")
	if err != nil {
		return
	}
	toText, err := conf.AttrString("to", "")
	if err != nil {
		return
	}
	if from, err = sbp.ParseParallel(fromText); err != nil {
		return from, to, conf.Errorf("%v", err)
	}
	if to, err = sbp.ParseParallel(toText); err != nil {
		return from, to, conf.Errorf("%v", err)
	}
	if !sbp.Convertible(from, to) {
		return from, to, conf.Errorf("can't convert %s to %s", from, to)
	}
	return from, to, nil
}

// IdentityConf returns the configuration of an identity of in.
func IdentityConf(name, in string) op.Conf {
	return op.Conf{Name: name, Type: TypeIdentity, Inputs: map[string][]string{"in": {in}}}
}

// AddNConf returns the configuration of the sum of the inputs.
func AddNConf(name string, inputs ...string) op.Conf {
	return op.Conf{Name: name, Type: TypeAddN, Inputs: map[string][]string{"in": inputs}}
}

// BoxingConf returns the configuration of a boxing operator converting in from one distribution to another.
func BoxingConf(name, in string, from, to sbp.Parallel) op.Conf {
	return op.Conf{Name: name, Type: TypeBoxing, Inputs: map[string][]string{"in": {in}},
		Attrs: map[string]any{"from": from.String(), "to": to.String()}}
}

// TickConf returns the configuration of a tick depending on the given ticks. opType is TypeTick or TypeSinkTick.
func TickConf(name, opType string, ticks ...string) op.Conf {
	conf := op.Conf{Name: name, Type: opType}
	if len(ticks) > 0 {
		conf.Inputs = map[string][]string{"tick": ticks}
	}
	return conf
}
