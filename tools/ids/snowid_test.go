package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIsUniqueAndIncreasing(t *testing.T) {
	seen := make(map[int64]struct{}, 10000)
	var last int64
	for i := 0; i < 10000; i++ {
		id := Generate()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
		assert.Greater(t, id, last)
		last = id
	}
}

func TestSetNodeID(t *testing.T) {
	prev := NodeID()
	t.Cleanup(func() { SetNodeID(prev) })

	SetNodeID(42)
	assert.Equal(t, int64(42), NodeOf(Generate()))

	SetNodeID(5000)
	assert.Equal(t, int64(1), NodeID())
}

func TestConnID(t *testing.T) {
	a, b := ConnID(), ConnID()
	assert.True(t, strings.HasPrefix(a, "c-"))
	assert.NotEqual(t, a, b)
}
