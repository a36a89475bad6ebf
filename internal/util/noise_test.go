package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseDeterministicAndBounded(t *testing.T) {
	a := NewNoise(42)
	b := NewNoise(42)

	for i := 0; i < 100; i++ {
		x, y := float64(i)*0.37, float64(i)*-0.11
		va := a.Noise2D(x, y)
		assert.Equal(t, va, b.Noise2D(x, y))
		assert.GreaterOrEqual(t, va, 0.0)
		assert.LessOrEqual(t, va, 1.0)
	}
	assert.Equal(t, int64(42), a.Seed())
}
