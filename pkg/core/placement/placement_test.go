package placement_test

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/core/placement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	g, err := placement.Parse("data", placement.DeviceTypeGPU, "0:0-1, 1:0-1")
	require.NoError(t, err)
	assert.Equal(t, 4, g.ParallelNum())
	assert.Equal(t, []int{0, 1}, g.Machines())
	assert.Equal(t, placement.Device{Machine: 1, Device: 0}, g.Device(2))
	assert.Equal(t, "0:0,0:1,1:0,1:1", g.Spec())
	assert.Equal(t, "Group(data, gpu, [0:0,0:1,1:0,1:1])", g.String())

	tests := []struct {
		name, spec, wantErr string
	}{
		{"missing_colon", "0", "expected"},
		{"bad_machine", "x:0", "invalid machine id"},
		{"bad_range", "0:3-1", "empty device range"},
		{"duplicate", "0:0-1,0:1", "more than once"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := placement.Parse("g", placement.DeviceTypeCPU, tt.spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewGroupErrors(t *testing.T) {
	_, err := placement.NewGroup("1bad", placement.DeviceTypeCPU, placement.Device{})
	require.Error(t, err)
	_, err = placement.NewGroup("good", placement.DeviceTypeCPU)
	require.Error(t, err)
	_, err = placement.NewGroup("good", placement.DeviceTypeInvalid, placement.Device{})
	require.Error(t, err)
}

func TestParallelContext(t *testing.T) {
	require.NoError(t, placement.SingleDevice.Validate())
	require.Error(t, placement.ParallelContext{ParallelID: 2, ParallelNum: 2}.Validate())
	dt, err := placement.DeviceTypeString("GPU")
	require.NoError(t, err)
	assert.Equal(t, placement.DeviceTypeGPU, dt)
}
