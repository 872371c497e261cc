package ops

import (
	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
)

func init() {
	op.Register(op.Def{
		Type:    TypeInput,
		Outputs: []op.ArgDef{{Name: "out"}},
		NoGrad:  true,
		Validate: func(conf *op.Conf) error {
			shape, err := shapeFromAttrs(conf)
			if err != nil {
				return err
			}
			batchAxis, err := inputBatchAxis(conf, shape)
			if err != nil {
				return err
			}
			return batchAxis.ValidFor(shape)
		},
		InferBlobDescs: func(ctx *op.Context) error {
			ctx.Output("out", 0).Shape = shapeAttr(ctx.Conf())
			return nil
		},
		InferBatchAxis: func(ctx *op.Context) error {
			batchAxis, err := inputBatchAxis(ctx.Conf(), shapeAttr(ctx.Conf()))
			if err != nil {
				return err
			}
			ctx.Output("out", 0).BatchAxis = batchAxis
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			candidates := sbp.SignatureList{}
			batchAxis, err := inputBatchAxis(ctx.Conf(), shapeAttr(ctx.Conf()))
			if err != nil {
				return nil, err
			}
			if batchAxis.HasAxis() {
				candidates = append(candidates, sbp.Signature{"out_0": sbp.Split(batchAxis.Axis())})
			}
			return append(candidates, sbp.Signature{"out_0": sbp.Broadcast()}), nil
		},
	})

	op.Register(op.Def{
		Type:     TypeVariable,
		Outputs:  []op.ArgDef{{Name: "out"}},
		NoGrad:   true,
		Validate: validateVariable,
		InferBlobDescs: func(ctx *op.Context) error {
			ctx.Output("out", 0).Shape = shapeAttr(ctx.Conf())
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			splitAxis := ctx.Conf().MustAttrInt("split_axis", -1)
			if splitAxis >= 0 {
				return sbp.SignatureList{{"out_0": sbp.Split(splitAxis)}}, nil
			}
			return sbp.SignatureList{{"out_0": sbp.Broadcast()}}, nil
		},
	})

	op.Register(op.Def{
		Type:    TypeModelLoad,
		Inputs:  []op.ArgDef{{Name: "tick", Optional: true}},
		Outputs: []op.ArgDef{{Name: "out", Repeated: true}},
		NoGrad:  true,
		Validate: func(conf *op.Conf) error {
			_, err := modelLoadShapes(conf)
			return err
		},
		InferBlobDescs: func(ctx *op.Context) error {
			loaded, err := modelLoadShapes(ctx.Conf())
			if err != nil {
				return err
			}
			if len(loaded) != ctx.NumOutputs("out") {
				return ctx.Errorf("model_load defines %d variables but has %d outputs", len(loaded), ctx.NumOutputs("out"))
			}
			for idx, shape := range loaded {
				ctx.Output("out", idx).Shape = shape
			}
			return nil
		},
	})

	op.Register(op.Def{
		Type:    TypeFillLike,
		Inputs:  []op.ArgDef{{Name: "like"}},
		Outputs: []op.ArgDef{{Name: "out"}},
		NoGrad:  true,
		Validate: func(conf *op.Conf) error {
			if _, err := conf.AttrFloat("value", 0); err != nil {
				return err
			}
			dtypeName, err := conf.AttrString("dtype", "")
			if err != nil || dtypeName == "" {
				return err
			}
			_, err = dtypes.FromName(dtypeName)
			return err
		},
		InferBlobDescs: func(ctx *op.Context) error {
			shape := ctx.Input("like", 0).Shape.Clone()
			if dtypeName := ctx.Conf().MustAttrString("dtype", ""); dtypeName != "" {
				shape.DType = dtypes.MustFromName(dtypeName)
			}
			ctx.Output("out", 0).Shape = shape
			return nil
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			return splitEachAxis(ctx, ctx.Input("like", 0).Shape.Rank(), sbp.AllBroadcast(ctx.Bindings()...)), nil
		},
	})
}

// inputBatchAxis reads the "batch_axis" attribute: it defaults to 0 for non-scalars and a negative value
// means no batch axis.
func inputBatchAxis(conf *op.Conf, shape shapes.Shape) (op.BatchAxis, error) {
	defaultAxis := 0
	if shape.IsScalar() {
		defaultAxis = -1
	}
	axis, err := conf.AttrInt("batch_axis", defaultAxis)
	if err != nil {
		return op.BatchAxis{}, err
	}
	if axis < 0 {
		return op.NoBatchAxis(), nil
	}
	return op.BatchAxisAt(axis), nil
}

func validateVariable(conf *op.Conf) error {
	shape, err := shapeFromAttrs(conf)
	if err != nil {
		return err
	}
	splitAxis, err := conf.AttrInt("split_axis", -1)
	if err != nil {
		return err
	}
	if splitAxis >= shape.Rank() {
		return conf.Errorf("split_axis %d out of range for shape %s", splitAxis, shape)
	}
	initializer, err := conf.AttrString("initializer", "zeros")
	if err != nil {
		return err
	}
	switch initializer {
	case "zeros", "ones", "constant":
	default:
		return conf.Errorf("unknown initializer %q", initializer)
	}
	return nil
}

// modelLoadShapes returns the shapes of the variables loaded, one per "variable_names" entry, given by the
// "shapes" attribute (a list of dimension lists) and the common "dtype".
func modelLoadShapes(conf *op.Conf) ([]shapes.Shape, error) {
	if err := conf.RequireAttrs("variable_names", "shapes"); err != nil {
		return nil, err
	}
	names, err := conf.AttrStrings("variable_names", nil)
	if err != nil {
		return nil, err
	}
	rawShapes, ok := conf.Attrs["shapes"].([]any)
	if !ok {
		if intsList, isInts := conf.Attrs["shapes"].([][]int); isInts {
			for _, dims := range intsList {
				rawShapes = append(rawShapes, dims)
			}
		} else {
			return nil, conf.Errorf("attribute \"shapes\" must be a list of dimension lists, got %T", conf.Attrs["shapes"])
		}
	}
	if len(rawShapes) != len(names) {
		return nil, conf.Errorf("%d variable names but %d shapes", len(names), len(rawShapes))
	}
	dtypeName, err := conf.AttrString("dtype", dtypes.Float32.String())
	if err != nil {
		return nil, err
	}
	dtype, err := dtypes.FromName(dtypeName)
	if err != nil {
		return nil, conf.Errorf("%v", err)
	}
	results := make([]shapes.Shape, len(names))
	for i, raw := range rawShapes {
		dimsConf := op.Conf{Name: conf.Name, Type: conf.Type, Attrs: map[string]any{"dims": raw}}
		dims, err := dimsConf.AttrInts("dims", nil)
		if err != nil {
			return nil, errors.WithMessagef(err, "shape of variable %q", names[i])
		}
		results[i], err = shapes.MakeChecked(dtype, dims...)
		if err != nil {
			return nil, conf.Errorf("shape of variable %q: %v", names[i], err)
		}
	}
	return results, nil
}

// InputConf returns the configuration of an input with the given shape, batch split on axis 0.
func InputConf(name string, shape shapes.Shape) op.Conf {
	return op.Conf{Name: name, Type: TypeInput, Attrs: map[string]any{
		"shape": shape.Dimensions, "dtype": shape.DType.String()}}
}

// VariableConf returns the configuration of a trainable variable initialized with zeros.
func VariableConf(name string, shape shapes.Shape) op.Conf {
	return op.Conf{Name: name, Type: TypeVariable, Trainable: true, Attrs: map[string]any{
		"shape": shape.Dimensions, "dtype": shape.DType.String()}}
}

// FillLikeConf returns the configuration of a blob shaped like `like` filled with value.
func FillLikeConf(name, like string, value float64) op.Conf {
	return op.Conf{Name: name, Type: TypeFillLike, Inputs: map[string][]string{"like": {like}},
		Attrs: map[string]any{"value": value}}
}
