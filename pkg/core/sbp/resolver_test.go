package sbp_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(p sbp.Parallel) *sbp.Parallel { return &p }

// elementwiseCandidates are the candidates of a binary elementwise op over rank-2 blobs.
func elementwiseCandidates() sbp.SignatureList {
	return sbp.SignatureList{
		sbp.AllSplit(0, "x_0", "y_0", "z_0"),
		sbp.AllSplit(1, "x_0", "y_0", "z_0"),
		sbp.AllBroadcast("x_0", "y_0", "z_0"),
	}
}

func TestDefaultCostModel(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 4, 4) // 64 bytes
	var m sbp.DefaultCostModel
	assert.Equal(t, int64(64*3), m.Volume(sbp.Split(0), sbp.Broadcast(), shape, 4))
	assert.Equal(t, int64(2*64*3), m.Volume(sbp.PartialSum(), sbp.Broadcast(), shape, 4))
	assert.Equal(t, int64(0), m.Volume(sbp.Broadcast(), sbp.Split(1), shape, 4))
	assert.Equal(t, int64(64*3/4), m.Volume(sbp.Split(0), sbp.Split(1), shape, 4))
	assert.Equal(t, int64(64*3/4), m.Volume(sbp.PartialSum(), sbp.Split(0), shape, 4))
	assert.Equal(t, int64(0), m.Volume(sbp.Split(0), sbp.Split(0), shape, 4))
	assert.Equal(t, int64(0), m.Volume(sbp.Split(0), sbp.Broadcast(), shape, 1))
}

func TestConvertible(t *testing.T) {
	assert.True(t, sbp.Convertible(sbp.Split(0), sbp.Broadcast()))
	assert.True(t, sbp.Convertible(sbp.PartialSum(), sbp.PartialSum()))
	assert.False(t, sbp.Convertible(sbp.Broadcast(), sbp.PartialSum()))
	assert.False(t, sbp.Convertible(sbp.Split(1), sbp.PartialSum()))
}

func TestResolve(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 8, 8)
	r := sbp.NewResolver()

	t.Run("free inputs take first candidate", func(t *testing.T) {
		res, err := r.Resolve(sbp.Request{
			OpName:      "max",
			Candidates:  elementwiseCandidates(),
			Inputs:      []sbp.InputEdge{{Binding: "x_0", LogicalShape: shape}, {Binding: "y_0", LogicalShape: shape}},
			ParallelNum: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Cost.Index)
		assert.Empty(t, res.Boxing)
	})

	t.Run("fewest boxing ops", func(t *testing.T) {
		res, err := r.Resolve(sbp.Request{
			OpName:     "max",
			Candidates: elementwiseCandidates(),
			Inputs: []sbp.InputEdge{
				{Binding: "x_0", Producer: "a", ProducerParallel: ptr(sbp.Split(1)), LogicalShape: shape},
				{Binding: "y_0", Producer: "b", ProducerParallel: ptr(sbp.Split(1)), LogicalShape: shape},
			},
			ParallelNum: 2,
		})
		require.NoError(t, err)
		assert.True(t, res.Signature.Equal(sbp.AllSplit(1, "x_0", "y_0", "z_0")))
		assert.Equal(t, 0, res.Cost.Boxing)
	})

	t.Run("volume tie-break", func(t *testing.T) {
		// x is broadcast and y is split on 1: both candidates need one boxing op, but B->S(1) moves no
		// bytes while S(1)->B does.
		req := sbp.Request{
			OpName: "max",
			Candidates: sbp.SignatureList{
				sbp.AllBroadcast("x_0", "y_0", "z_0"),
				sbp.AllSplit(1, "x_0", "y_0", "z_0"),
			},
			Inputs: []sbp.InputEdge{
				{Binding: "x_0", Producer: "a", ProducerParallel: ptr(sbp.Broadcast()), LogicalShape: shape},
				{Binding: "y_0", Producer: "b", ProducerParallel: ptr(sbp.Split(1)), LogicalShape: shape},
			},
			ParallelNum: 2,
		}
		res, err := r.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Cost.Index)
		assert.Equal(t, []string{"x_0"}, res.Boxing)

		byIndex := &sbp.Resolver{TieBreak: sbp.TieBreakByIndex}
		res, err = byIndex.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Cost.Index)
		assert.Equal(t, []string{"y_0"}, res.Boxing)
	})

	t.Run("unsatisfiable", func(t *testing.T) {
		_, err := r.Resolve(sbp.Request{
			OpName:     "reduce",
			Candidates: sbp.SignatureList{sbp.Build().PartialSum("x_0", "z_0").MustDone()},
			Inputs: []sbp.InputEdge{
				{Binding: "x_0", Producer: "a", ProducerParallel: ptr(sbp.Broadcast()), LogicalShape: shape},
			},
			ParallelNum: 2,
		})
		var unsat *sbp.UnsatisfiableDistributionError
		require.True(t, errors.As(err, &unsat))
		assert.Equal(t, "x_0", unsat.Edge)
		assert.Equal(t, sbp.Broadcast(), unsat.Producer)
		assert.Equal(t, sbp.PartialSum(), unsat.Consumer)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := r.Resolve(sbp.Request{OpName: "noop"})
		var unsupported *sbp.UnsupportedDistributionError
		require.True(t, errors.As(err, &unsupported))
	})
}

func TestResolveIdempotent(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 8, 8)
	r := sbp.NewResolver()
	first, err := r.Resolve(sbp.Request{
		OpName:     "max",
		Candidates: elementwiseCandidates(),
		Inputs: []sbp.InputEdge{
			{Binding: "x_0", Producer: "a", ProducerParallel: ptr(sbp.Broadcast()), LogicalShape: shape},
			{Binding: "y_0", Producer: "b", ProducerParallel: ptr(sbp.Split(1)), LogicalShape: shape},
		},
		ParallelNum: 2,
	})
	require.NoError(t, err)
	second, err := r.Resolve(sbp.Request{
		OpName:     "max",
		Candidates: elementwiseCandidates(),
		Inputs: []sbp.InputEdge{
			{Binding: "x_0", Producer: "a", ProducerParallel: ptr(first.Signature["x_0"]), LogicalShape: shape},
			{Binding: "y_0", Producer: "b", ProducerParallel: ptr(first.Signature["y_0"]), LogicalShape: shape},
		},
		ParallelNum: 2,
	})
	require.NoError(t, err)
	assert.True(t, first.Signature.Equal(second.Signature))
	assert.Equal(t, 0, second.Cost.Boxing)
}

func TestValidate(t *testing.T) {
	require.NoError(t, sbp.Validate("max", sbp.AllBroadcast("x_0", "y_0", "z_0"), elementwiseCandidates()))
	err := sbp.Validate("max", sbp.AllSplit(3, "x_0", "y_0", "z_0"), elementwiseCandidates())
	var unsupported *sbp.UnsupportedDistributionError
	require.True(t, errors.As(err, &unsupported))
	assert.Len(t, unsupported.Candidates, 3)
}
