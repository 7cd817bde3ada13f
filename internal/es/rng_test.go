package es

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySplitIsDeterministic(t *testing.T) {
	a := NewKey(7).Split(4)
	b := NewKey(7).Split(4)
	assert.Equal(t, a, b)

	seen := map[Key]bool{}
	for _, k := range a {
		assert.False(t, seen[k], "duplicate child key")
		seen[k] = true
	}
}

func TestKeyRandReproducesStream(t *testing.T) {
	k := NewKey(42)
	r1, r2 := k.Rand(), k.Rand()
	for i := 0; i < 16; i++ {
		assert.Equal(t, r1.NormFloat64(), r2.NormFloat64())
	}
	assert.NotEqual(t, NewKey(1).Rand().Float64(), NewKey(2).Rand().Float64())
}
