package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int](10)
	assert.Len(t, s, 0)

	assert.True(t, s.Insert(7, 3))
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	// Re-inserting reports the duplicate.
	assert.False(t, s.Insert(5, 3))
	assert.Len(t, s, 3)
	assert.Equal(t, []int{3, 5, 7}, Sorted(s))

	assert.Empty(t, Sorted(Make[string]()))
}
