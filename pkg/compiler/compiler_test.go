package compiler_test

import (
	"strings"
	"testing"

	"github.com/gomlx/jobflow/pkg/compiler"
	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/job"
	"github.com/gomlx/jobflow/pkg/core/op"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/gomlx/jobflow/pkg/ops"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const typeGrowing = "test_growing"

func init() {
	// Its output grows every time it's inferred: inference never reaches a fixed point.
	op.Register(op.Def{
		Type:    typeGrowing,
		Outputs: []op.ArgDef{{Name: "out"}},
		NoGrad:  true,
		InferBlobDescs: func(ctx *op.Context) error {
			out := ctx.Output("out", 0)
			if out.Shape.Ok() {
				out.Shape = shapes.Make(dtypes.Float32, out.Shape.Dim(0)+1)
			} else {
				out.Shape = shapes.Make(dtypes.Float32, 1)
			}
			return nil
		},
	})
}

// lossJob builds: x (input) and w (trainable variable), m = max(x, w), loss = smooth_l1(m, label).
func lossJob(t *testing.T, groups ...*placement.Group) *job.Job {
	j := job.New(job.Config{Name: "loss"})
	for _, g := range groups {
		require.NoError(t, j.AddPlacement(g))
	}
	shape := shapes.Make(dtypes.Float32, 4, 3)
	for _, conf := range []op.Conf{
		ops.InputConf("x", shape),
		ops.InputConf("label", shape),
		ops.VariableConf("w", shape),
		ops.MaximumConf("m", "x/out_0", "w/out_0"),
		ops.SmoothL1Conf("loss", "m/z_0", "label/out_0", 1.0),
	} {
		must.M1(j.AddOp(conf))
	}
	return j
}

func TestCompileInference(t *testing.T) {
	logical := lossJob(t)
	compiled, state, err := compiler.New().CompileWithState(logical)
	require.NoError(t, err)

	assert.True(t, compiled.IsFrozen())
	assert.False(t, logical.IsFrozen())
	_, found := logical.BlobDesc("loss/loss_0")
	assert.False(t, found, "logical job must not be modified")

	desc, found := compiled.BlobDesc("x/out_0")
	require.True(t, found)
	assert.Equal(t, "(Float32)[4 3]{batch=0}", desc.String())
	desc, found = compiled.BlobDesc("w/out_0")
	require.True(t, found)
	assert.False(t, desc.BatchAxis.HasAxis())

	// w has no batch axis, so max(x, w) and the loss keep the one of x.
	desc, found = compiled.BlobDesc("m/z_0")
	require.True(t, found)
	assert.Equal(t, "(Float32)[4 3]{batch=0}", desc.String())
	desc, found = compiled.BlobDesc("loss/loss_0")
	require.True(t, found)
	assert.Equal(t, "(Float32)[4 3]{batch=0}", desc.String())

	for _, o := range compiled.Ops() {
		group, found := compiled.OpPlacement(o.Name())
		require.True(t, found, o.Name())
		assert.Equal(t, placement.DefaultGroupName, group.Name())
		assert.NotNil(t, o.SbpSignature(), o.Name())
	}

	iterations, found := state.Get("inference", "iterations")
	require.True(t, found)
	assert.Equal(t, 2, iterations)
	defaultGroup, _ := state.Get("placement", "default_group")
	assert.Equal(t, placement.DefaultGroupName, defaultGroup)
	boxing, _ := state.Get("sbp", "boxing_ops")
	assert.Equal(t, 0, boxing)

	// Frozen jobs reject changes.
	_, err = compiled.AddOp(ops.IdentityConf("late", "x/out_0"))
	require.ErrorIs(t, err, job.ErrFrozen)
}

func TestCompileDeterministic(t *testing.T) {
	first := must.M1(compiler.New(compiler.WithTraining("loss/loss_0")).Compile(lossJob(t)))
	want := must.M1(first.StructureGraph())
	for range 3 {
		again := must.M1(compiler.New(compiler.WithTraining("loss/loss_0")).Compile(lossJob(t)))
		assert.Equal(t, want, must.M1(again.StructureGraph()))
	}
}

func TestCompileUnknownPlacement(t *testing.T) {
	logical := lossJob(t)
	must.M1(logical.AddOp(op.Conf{Name: "stray", Type: ops.TypeIdentity,
		Inputs: map[string][]string{"in": {"x/out_0"}}, Placement: "nowhere"}))
	numOps := logical.NumOps()
	_, err := compiler.New().Compile(logical)
	require.Error(t, err)
	var configErr *op.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "stray", configErr.OpName)
	assert.Len(t, logical.Placements(), 0)
	assert.Equal(t, numOps, logical.NumOps())
}

func TestCompileNoDefaultPlacement(t *testing.T) {
	logical := lossJob(t,
		must.M1(placement.NewGroup("a", placement.DeviceTypeCPU, placement.Device{})),
		must.M1(placement.NewGroup("b", placement.DeviceTypeCPU, placement.Device{Device: 1})))
	_, err := compiler.New().Compile(logical)
	var configErr *op.ConfigError
	require.True(t, errors.As(err, &configErr))

	compiled, err := compiler.New(compiler.WithDefaultPlacement("b")).Compile(logical)
	require.NoError(t, err)
	group, _ := compiled.OpPlacement("loss")
	assert.Equal(t, "b", group.Name())
}

func TestInferenceDiverges(t *testing.T) {
	logical := job.New(job.Config{Name: "growing"})
	must.M1(logical.AddOp(op.Conf{Name: "g", Type: typeGrowing}))
	_, err := compiler.New(compiler.WithMaxInferenceIterations(3)).Compile(logical)
	require.Error(t, err)
	var diverged *compiler.InferenceDivergedError
	require.True(t, errors.As(err, &diverged))
	assert.Equal(t, 3, diverged.Iterations)
	assert.Equal(t, []string{"g/out_0"}, diverged.Changed)
	_, found := logical.BlobDesc("g/out_0")
	assert.False(t, found)
}

func TestBoxingInsertion(t *testing.T) {
	registry := prometheus.NewRegistry()
	logical := job.New(job.Config{Name: "boxing"})
	must.M(logical.AddPlacement(must.M1(placement.Parse("pair", placement.DeviceTypeCPU, "0:0-1"))))
	shape := shapes.Make(dtypes.Float32, 4, 3)
	must.M1(logical.AddOp(ops.InputConf("x", shape)))
	must.M1(logical.AddOp(ops.VariableConf("w", shape)))
	must.M1(logical.AddOp(ops.MaximumConf("m", "x/out_0", "w/out_0")))

	c := compiler.New(compiler.WithMetrics(registry))
	compiled, state, err := c.CompileWithState(logical)
	require.NoError(t, err)

	// x is split on the batch axis, w is broadcast: max takes S(0) and w gets converted.
	m, _ := compiled.Op("m")
	assert.Equal(t, "x_0:S(0), y_0:S(0), z_0:S(0)", m.SbpSignature().String())
	boxingName := compiler.BoxingOpName("m", "y_0")
	boxing, found := compiled.Op(boxingName)
	require.True(t, found)
	assert.Equal(t, ops.TypeBoxing, boxing.Type())
	assert.Equal(t, []string{"w/out_0"}, boxing.InputLBNs())
	assert.Equal(t, "in_0:B, out_0:S(0)", boxing.SbpSignature().String())
	y, _ := m.InputLBN("y", 0)
	assert.Equal(t, boxingName+"/out_0", y)
	group, _ := compiled.OpPlacement(boxingName)
	assert.Equal(t, "pair", group.Name())

	count, _ := state.Get("sbp", "boxing_ops")
	assert.Equal(t, 1, count)
	expected := `
# HELP jobflow_compiler_boxing_ops_inserted_total Number of boxing operators inserted by the SBP pass.
# TYPE jobflow_compiler_boxing_ops_inserted_total counter
jobflow_compiler_boxing_ops_inserted_total 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"jobflow_compiler_boxing_ops_inserted_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(registry, "jobflow_compiler_compilations_total"))

	// Resolving again inserts nothing new.
	twice := compiler.New().WithPasses(compiler.PlacementPass{}, compiler.InferencePass{}, compiler.SbpPass{},
		compiler.SbpPass{})
	again, state, err := twice.CompileWithState(logical)
	require.NoError(t, err)
	count, _ = state.Get("sbp", "boxing_ops")
	assert.Equal(t, 0, count)
	assert.Equal(t, compiled.NumOps(), again.NumOps())
}

func TestDataParallelLoss(t *testing.T) {
	pair := must.M1(placement.Parse("pair", placement.DeviceTypeCPU, "0:0-1"))
	compiled, err := compiler.New(compiler.WithTraining("loss/loss_0")).Compile(lossJob(t, pair))
	require.NoError(t, err)

	desc, _ := compiled.BlobDesc("m/z_0")
	assert.Equal(t, 0, desc.BatchAxis.Axis())
	m, _ := compiled.Op("m")
	assert.Equal(t, "x_0:S(0), y_0:S(0), z_0:S(0)", m.SbpSignature().String())

	// The loss stays split on the batch axis: only w needs converting.
	loss, _ := compiled.Op("loss")
	assert.Equal(t, "label_0:S(0), loss_0:S(0), prediction_0:S(0)", loss.SbpSignature().String())
	for _, binding := range []string{"prediction_0", "label_0"} {
		_, found := compiled.Op(compiler.BoxingOpName("loss", binding))
		assert.False(t, found, binding)
	}
	_, found := compiled.Op(compiler.BoxingOpName("m", "y_0"))
	assert.True(t, found)
}

func TestBoxingAcrossGroups(t *testing.T) {
	logical := job.New(job.Config{Name: "cross"})
	must.M(logical.AddPlacement(must.M1(placement.NewGroup("src", placement.DeviceTypeCPU, placement.Device{}))))
	must.M(logical.AddPlacement(must.M1(placement.NewGroup("dst", placement.DeviceTypeGPU, placement.Device{}))))
	x := ops.InputConf("x", shapes.Make(dtypes.Float32, 2, 2))
	x.Placement = "src"
	must.M1(logical.AddOp(x))
	id := ops.IdentityConf("id", "x/out_0")
	id.Placement = "dst"
	must.M1(logical.AddOp(id))

	compiled, err := compiler.New().Compile(logical)
	require.NoError(t, err)
	boxing, found := compiled.Op(compiler.BoxingOpName("id", "in_0"))
	require.True(t, found)
	group, _ := compiled.OpPlacement(boxing.Name())
	assert.Equal(t, "dst", group.Name())
	consumer, _ := compiled.Op("id")
	assert.Equal(t, []string{boxing.Name() + "/out_0"}, consumer.InputLBNs())
}

func TestGradient(t *testing.T) {
	logical := lossJob(t)
	compiled, state, err := compiler.New(compiler.WithTraining("loss/loss_0")).CompileWithState(logical)
	require.NoError(t, err)

	seed, found := compiled.Op("grad_seed-loss-loss_0")
	require.True(t, found)
	assert.Equal(t, ops.TypeFillLike, seed.Type())

	lossGrad, found := compiled.Op(ops.GradOpName("loss"))
	require.True(t, found)
	assert.Equal(t, ops.TypeSmoothL1Grad, lossGrad.Type())

	// Only w needs a gradient: the backward of max only produces dy.
	maxGrad, found := compiled.Op(ops.GradOpName("m"))
	require.True(t, found)
	assert.Equal(t, ops.TypeMaximum+ops.BackwardSuffix, maxGrad.Type())
	assert.Equal(t, []string{ops.GradOpName("m") + "/dy_0"}, maxGrad.OutputLBNs())

	published, found := state.Get("gradient", "variable_grads")
	require.True(t, found)
	variableGrads := published.(map[string]string)
	assert.Equal(t, map[string]string{"w/out_0": ops.GradOpName("m") + "/dy_0"}, variableGrads)
	desc, found := compiled.BlobDesc(variableGrads["w/out_0"])
	require.True(t, found)
	assert.Equal(t, "(Float32)[4 3]", desc.Shape.String())
	assert.NotNil(t, maxGrad.SbpSignature())
}

func TestGradientSumsContributions(t *testing.T) {
	logical := job.New(job.Config{Name: "sum", Training: true, LossLBNs: []string{"loss/loss_0"}})
	shape := shapes.Make(dtypes.Float32, 4)
	for _, conf := range []op.Conf{
		ops.InputConf("label", shape),
		ops.VariableConf("w", shape),
		ops.MaximumConf("m", "w/out_0", "w/out_0"),
		ops.SmoothL1Conf("loss", "m/z_0", "label/out_0", 1.0),
	} {
		must.M1(logical.AddOp(conf))
	}
	compiled, state, err := compiler.New().CompileWithState(logical)
	require.NoError(t, err)
	published, _ := state.Get("gradient", "variable_grads")
	sum := published.(map[string]string)["w/out_0"]
	assert.Equal(t, "grad_sum-w-out_0/out_0", sum)
	addN, found := compiled.Op("grad_sum-w-out_0")
	require.True(t, found)
	assert.Equal(t, ops.TypeAddN, addN.Type())
	assert.Len(t, addN.InputLBNs(), 2)
}

func TestGradientErrors(t *testing.T) {
	_, err := compiler.New(compiler.WithTraining()).Compile(lossJob(t))
	require.ErrorContains(t, err, "at least one loss")
	_, err = compiler.New(compiler.WithTraining("nowhere/out_0")).Compile(lossJob(t))
	require.ErrorContains(t, err, "has no producer")
}

func TestProgressAndPasses(t *testing.T) {
	var seen []string
	c := compiler.New(compiler.WithProgress(func(pass string, index, total int) {
		assert.Equal(t, 5, total)
		seen = append(seen, pass)
	}), compiler.WithTieBreak(sbp.TieBreakByIndex))
	must.M1(c.Compile(lossJob(t)))
	assert.Equal(t, []string{"placement", "inference", "sbp", "gradient", "finalize"}, seen)
	assert.Equal(t, sbp.TieBreakByIndex, c.Config().TieBreak)
	assert.Len(t, c.Passes(), 5)
}
