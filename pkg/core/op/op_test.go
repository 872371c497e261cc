package op_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	op.Register(op.Def{
		Type:    "test_binary",
		Inputs:  []op.ArgDef{{Name: "x"}, {Name: "y", Optional: true}},
		Outputs: []op.ArgDef{{Name: "z"}},
		Validate: func(conf *op.Conf) error {
			_, err := conf.AttrInt("scale", 1)
			return err
		},
		GetSbpSignatures: func(ctx *op.Context) (sbp.SignatureList, error) {
			return sbp.SignatureList{
				sbp.AllSplit(0, ctx.Bindings()...),
				sbp.AllBroadcast(ctx.Bindings()...),
			}, nil
		},
	})
	op.Register(op.Def{
		Type:    "test_panics",
		Inputs:  []op.ArgDef{{Name: "x"}},
		Outputs: []op.ArgDef{{Name: "z"}},
		InferBlobDescs: func(ctx *op.Context) error {
			_ = ctx.Input("missing", 0)
			return nil
		},
	})
	op.Register(op.Def{
		Type:    "test_source",
		Outputs: []op.ArgDef{{Name: "out", Repeated: true}},
		InferBlobDescs: func(ctx *op.Context) error {
			for idx := range ctx.NumOutputs("out") {
				ctx.Output("out", idx).Shape = shapes.Make(dtypes.Float32, 4, 2)
			}
			return nil
		},
		NoGrad: true,
	})
}

func blobs(descs map[string]op.BlobDesc) op.BlobLookup {
	return func(lbn string) (op.BlobDesc, bool) {
		d, found := descs[lbn]
		return d, found
	}
}

func TestLBN(t *testing.T) {
	assert.Equal(t, "a/out_1", op.MakeLBN("a", "out", 1))
	opName, binding, err := op.SplitLBN("scope/a/out_1")
	require.NoError(t, err)
	assert.Equal(t, "scope/a", opName)
	assert.Equal(t, "out_1", binding)
	_, _, err = op.SplitLBN("noslash")
	require.Error(t, err)
	arg, idx, err := op.SplitBindingName("dx_dy_3")
	require.NoError(t, err)
	assert.Equal(t, "dx_dy", arg)
	assert.Equal(t, 3, idx)
}

func TestBatchAxis(t *testing.T) {
	assert.False(t, op.UnknownBatchAxis.IsKnown())
	assert.True(t, op.NoBatchAxis().IsKnown())
	assert.False(t, op.NoBatchAxis().HasAxis())
	assert.Equal(t, 2, op.BatchAxisAt(2).Axis())
	for _, text := range []string{"?", "none", "0", "3"} {
		b, err := op.ParseBatchAxis(text)
		require.NoError(t, err)
		assert.Equal(t, text, b.String())
	}
	_, err := op.ParseBatchAxis("-1")
	require.Error(t, err)
	require.Error(t, op.BatchAxisAt(2).ValidFor(shapes.Make(dtypes.Float32, 3)))
}

func TestInitFromConfig(t *testing.T) {
	o, err := op.New(op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"src/out_0"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/out_0"}, o.InputLBNs())
	assert.Equal(t, []string{"a/z_0"}, o.OutputLBNs())

	tests := []struct {
		name string
		conf op.Conf
	}{
		{"unknown type", op.Conf{Name: "a", Type: "nope"}},
		{"empty name", op.Conf{Type: "test_binary", Inputs: map[string][]string{"x": {"s/o_0"}}}},
		{"missing input", op.Conf{Name: "a", Type: "test_binary"}},
		{"unknown input", op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"s/o_0"}, "w": {"s/o_0"}}}},
		{"too many", op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"s/o_0", "s/o_1"}}}},
		{"unknown output", op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"s/o_0"}}, Outputs: map[string]int{"w": 1}}},
		{"bad attr", op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"s/o_0"}}, Attrs: map[string]any{"scale": "big"}}},
		{"bad lbn", op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"nolbn"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := op.New(tt.conf)
			var cfgErr *op.ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
		})
	}
}

func TestConfCloneIsDeep(t *testing.T) {
	conf := op.Conf{Name: "a", Type: "test_binary", Inputs: map[string][]string{"x": {"s/o_0"}},
		Attrs: map[string]any{"dims": []any{1, 2}}}
	o, err := op.New(conf)
	require.NoError(t, err)
	conf.Inputs["x"][0] = "changed/o_0"
	conf.Attrs["dims"].([]any)[0] = 7
	got := o.Conf()
	assert.Equal(t, "s/o_0", got.Inputs["x"][0])
	dims, err := got.AttrInts("dims", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, dims)
}

func TestAttrs(t *testing.T) {
	conf := op.Conf{Name: "a", Type: "t", Attrs: map[string]any{
		"i": 3, "f": 0.5, "fi": 2.0, "s": "same", "b": true, "ss": []any{"a", "b"}, "is": []int{1, 2},
	}}
	i, err := conf.AttrInt("i", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, i)
	i, err = conf.AttrInt("fi", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	_, err = conf.AttrInt("f", 0)
	require.Error(t, err)
	f, err := conf.AttrFloat("i", 0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f, 1e-9)
	s, err := conf.AttrString("missing", "dflt")
	require.NoError(t, err)
	assert.Equal(t, "dflt", s)
	b, err := conf.AttrBool("b", false)
	require.NoError(t, err)
	assert.True(t, b)
	ss, err := conf.AttrStrings("ss", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ss)
	is, err := conf.AttrInts("is", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, is)
	require.Error(t, conf.RequireAttrs("i", "nope"))
}

func TestInference(t *testing.T) {
	descs := map[string]op.BlobDesc{
		"src/out_0": {Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.BatchAxisAt(0)},
		"src/out_1": {Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.NoBatchAxis()},
	}
	o, err := op.New(op.Conf{Name: "a", Type: "test_binary",
		Inputs: map[string][]string{"x": {"src/out_0"}, "y": {"src/out_1"}}})
	require.NoError(t, err)

	out, err := o.InferLogicalBlobDescs(blobs(descs))
	require.NoError(t, err)
	assert.True(t, descs["src/out_0"].Shape.Equal(out["a/z_0"].Shape))

	// An input without batch axis doesn't hide the other's.
	axes, err := o.InferBatchAxis(blobs(descs))
	require.NoError(t, err)
	assert.Equal(t, op.BatchAxisAt(0), axes["a/z_0"])

	// Inputs disagree: no batch axis.
	descs["src/out_1"] = op.BlobDesc{Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.BatchAxisAt(1)}
	axes, err = o.InferBatchAxis(blobs(descs))
	require.NoError(t, err)
	assert.Equal(t, op.NoBatchAxis(), axes["a/z_0"])

	// Neither input has a batch axis.
	descs["src/out_0"] = op.BlobDesc{Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.NoBatchAxis()}
	descs["src/out_1"] = op.BlobDesc{Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.NoBatchAxis()}
	axes, err = o.InferBatchAxis(blobs(descs))
	require.NoError(t, err)
	assert.Equal(t, op.NoBatchAxis(), axes["a/z_0"])
	descs["src/out_0"] = op.BlobDesc{Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.BatchAxisAt(0)}

	// Inputs agree.
	descs["src/out_1"] = op.BlobDesc{Shape: shapes.Make(dtypes.Float32, 4, 2), BatchAxis: op.BatchAxisAt(0)}
	axes, err = o.InferBatchAxis(blobs(descs))
	require.NoError(t, err)
	assert.Equal(t, op.BatchAxisAt(0), axes["a/z_0"])
	cached, found := o.OutputDesc("z_0")
	require.True(t, found)
	assert.Equal(t, "(Float32)[4 2]{batch=0}", cached.String())

	// Missing input blob.
	_, err = o.InferLogicalBlobDescs(blobs(nil))
	var shapeErr *op.ShapeInferenceError
	require.True(t, errors.As(err, &shapeErr))

	// Local shapes follow the SBP signature.
	require.NoError(t, o.InferSbpSignature(sbp.AllSplit(0, "x_0", "y_0", "z_0"), blobs(descs)))
	local, err := o.InferBlobDescs(blobs(descs), placement.ParallelContext{ParallelID: 1, ParallelNum: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, local["a/z_0"].Shape.Dimensions)

	err = o.InferSbpSignature(sbp.AllSplit(1, "x_0", "y_0", "z_0"), blobs(descs))
	var unsupported *sbp.UnsupportedDistributionError
	require.True(t, errors.As(err, &unsupported))
}

func TestInferencePanicIsError(t *testing.T) {
	o, err := op.New(op.Conf{Name: "p", Type: "test_panics", Inputs: map[string][]string{"x": {"src/out_0"}}})
	require.NoError(t, err)
	_, err = o.InferLogicalBlobDescs(blobs(map[string]op.BlobDesc{
		"src/out_0": {Shape: shapes.Make(dtypes.Float32, 1)}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no input missing_0")
}

func TestDefaults(t *testing.T) {
	src, err := op.New(op.Conf{Name: "src", Type: "test_source", Outputs: map[string]int{"out": 2}})
	require.NoError(t, err)
	out, err := src.InferLogicalBlobDescs(blobs(nil))
	require.NoError(t, err)
	assert.Len(t, out, 2)
	axes, err := src.InferBatchAxis(blobs(nil))
	require.NoError(t, err)
	assert.Equal(t, op.NoBatchAxis(), axes["src/out_1"])
	candidates, err := src.GetSbpSignatures(blobs(nil))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "out_0:B, out_1:B", candidates[0].String())
	require.NoError(t, src.GenerateBackwardOps(nil))
	assert.Contains(t, op.RegisteredTypes(), "test_source")
}
