package voxtube

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarityKnownValues(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)

	// 45 degrees
	assert.InDelta(t, math.Sqrt2/2, CosineSimilarity([]float64{1, 0}, []float64{1, 1}), 1e-12)
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float64{0.3, -1.2, 4.5}
	b := []float64{-2.1, 0.7, 1.9}

	base := CosineSimilarity(a, b)

	scaled := make([]float64, len(a))
	for i, v := range a {
		scaled[i] = v * 1000
	}

	assert.InDelta(t, base, CosineSimilarity(scaled, b), 1e-12)
}

func TestCosineSimilarityBounds(t *testing.T) {
	// Nearly identical vectors can produce dot products a hair above 1 from
	// float drift; the result must stay clamped.
	a := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	sim := CosineSimilarity(a, a)
	assert.LessOrEqual(t, sim, 1.0)
	assert.InDelta(t, 1.0, sim, 1e-12)
}

func TestCosineSimilarityZeroNorm(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0, 0}, []float64{1, 2, 3}))
}

func TestCosineSimilarityPanics(t *testing.T) {
	assert.Panics(t, func() {
		CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3})
	})
	assert.Panics(t, func() {
		CosineSimilarity(nil, []float64{1})
	})
	assert.Panics(t, func() {
		CosineSimilarity([]float64{1}, []float64{})
	})
}

func TestNormalizeVector(t *testing.T) {
	v := []float64{3, 4}
	unit := normalizeVector(v)

	assert.InDelta(t, 1.0, math.Hypot(unit[0], unit[1]), 1e-12)
	assert.InDelta(t, 0.6, unit[0], 1e-12)
	assert.InDelta(t, 0.8, unit[1], 1e-12)

	// Input must not be mutated.
	assert.Equal(t, []float64{3, 4}, v)
}

func TestNormalizeVectorZero(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 0}, normalizeVector([]float64{0, 0, 0}))
}
