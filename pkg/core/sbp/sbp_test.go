package sbp_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/core/dtypes"
	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/gomlx/jobflow/pkg/core/sbp"
	"github.com/gomlx/jobflow/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallel(t *testing.T) {
	for _, text := range []string{"S(0)", "S(3)", "B", "P"} {
		p, err := sbp.ParseParallel(text)
		require.NoError(t, err)
		assert.Equal(t, text, p.String())
	}
	for _, text := range []string{"", "S", "S(-1)", "S(x)", "X"} {
		_, err := sbp.ParseParallel(text)
		require.Error(t, err, "parsing %q", text)
	}
}

func TestLocalShape(t *testing.T) {
	logical := shapes.Make(dtypes.Float32, 5, 3)
	local, err := sbp.Split(0).LocalShape(logical, placement.ParallelContext{ParallelID: 0, ParallelNum: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, local.Dimensions)
	local, err = sbp.Split(0).LocalShape(logical, placement.ParallelContext{ParallelID: 1, ParallelNum: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, local.Dimensions)
	local, err = sbp.Broadcast().LocalShape(logical, placement.ParallelContext{ParallelID: 1, ParallelNum: 2})
	require.NoError(t, err)
	assert.True(t, logical.Equal(local))
	_, err = sbp.Split(2).LocalShape(logical, placement.ParallelContext{ParallelID: 1, ParallelNum: 2})
	require.Error(t, err)
	_, err = sbp.Split(1).LocalShape(logical, placement.ParallelContext{ParallelID: 1, ParallelNum: 4})
	require.Error(t, err)
}

func TestSignature(t *testing.T) {
	sig, err := sbp.Build().Split(0, "x_0", "z_0").Broadcast("w_0").Done()
	require.NoError(t, err)
	assert.Equal(t, "w_0:B, x_0:S(0), z_0:S(0)", sig.String())
	parsed, err := sbp.ParseSignature(sig.String())
	require.NoError(t, err)
	assert.True(t, sig.Equal(parsed))

	_, err = sbp.Build().Split(0, "x_0").Broadcast("x_0").Done()
	require.Error(t, err)
	_, err = sbp.ParseSignature("x_0:B, x_0:P")
	require.Error(t, err)
	_, err = sbp.ParseSignature("x_0")
	require.Error(t, err)

	list := sbp.SignatureList{sbp.AllBroadcast("x_0", "z_0"), sbp.AllSplit(0, "x_0", "z_0")}
	assert.Equal(t, 1, list.Contains(sbp.AllSplit(0, "z_0", "x_0")))
	assert.Equal(t, -1, list.Contains(sig))
}
