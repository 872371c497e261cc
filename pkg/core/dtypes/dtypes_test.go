package dtypes

import (
	"testing"

	"github.com/gomlx/jobflow/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromName(t *testing.T) {
	for name, want := range map[string]DType{
		"Float32":  Float32,
		"float32":  Float32,
		"f32":      Float32,
		"BF16":     BFloat16,
		"int64":    Int64,
		"Bool":     Bool,
		"uint8":    Uint8,
		"bfloat16": BFloat16,
	} {
		got, err := FromName(name)
		require.NoErrorf(t, err, "name=%q", name)
		assert.Equalf(t, want, got, "name=%q", name)
	}
	_, err := FromName("complex64")
	require.Error(t, err)
}

func TestSizes(t *testing.T) {
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, 2, BFloat16.Size())
	assert.Equal(t, 8, Int64.Size())
	assert.Equal(t, 1, Bool.Size())
	assert.Equal(t, uintptr(8), Float64.Memory())
}

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Uint32, FromGenericsType[uint32]())
	assert.True(t, Float16.IsFloat())
	assert.True(t, Uint16.IsUnsigned())
	assert.False(t, Float64.IsInt())
}
