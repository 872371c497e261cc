package scoped_test

import (
	"testing"

	"github.com/gomlx/jobflow/internal/scoped"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int }

func (c *counter) CloneValue() any { return &counter{n: c.n} }

func TestParams(t *testing.T) {
	p := scoped.New()
	p.Set(scoped.RootScope, "iterations", 2)
	p.Set(scoped.Scope("sbp"), "boxing", 3)
	p.Set(scoped.Scope("sbp", "extra"), "boxing", 1)

	value, found := p.Get("/sbp/extra", "boxing")
	require.True(t, found)
	assert.Equal(t, 1, value)
	value, found = p.Get("/sbp", "boxing")
	require.True(t, found)
	assert.Equal(t, 3, value)
	value, found = p.Get("/sbp/extra", "iterations")
	require.True(t, found)
	assert.Equal(t, 2, value)
	_, found = p.Get("/other", "boxing")
	assert.False(t, found)
	_, found = p.GetLocal("/sbp/extra", "iterations")
	assert.False(t, found)

	type entry struct {
		scope, key string
		value      any
	}
	var got []entry
	p.Enumerate(func(scope, key string, value any) { got = append(got, entry{scope, key, value}) })
	assert.Equal(t, []entry{
		{"/", "iterations", 2},
		{"/sbp", "boxing", 3},
		{"/sbp/extra", "boxing", 1},
	}, got)

	p.Delete("/sbp/extra", "boxing")
	assert.Equal(t, 2, p.Len())
}

func TestClone(t *testing.T) {
	p := scoped.New()
	shared := []int{1}
	p.Set("/", "shared", shared)
	p.Set("/", "counter", &counter{n: 1})
	clone := p.Clone()
	clone.Set("/", "new", true)
	c, _ := clone.Get("/", "counter")
	c.(*counter).n = 7

	_, found := p.Get("/", "new")
	assert.False(t, found)
	original, _ := p.Get("/", "counter")
	assert.Equal(t, 1, original.(*counter).n)
}
