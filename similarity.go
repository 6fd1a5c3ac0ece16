package voxtube

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity returns the cosine similarity of two vectors, in [-1, 1].
//
// Both vectors must have equal, positive length. Violating that is a caller
// bug, not a runtime condition, so it panics the same way gonum panics on a
// shape mismatch. Callers are expected to have filtered out empty embeddings
// before clustering (see ValidEmbeddings).
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		panic("voxtube: cosine similarity of zero-length vector")
	}
	if len(a) != len(b) {
		panic(fmt.Sprintf("voxtube: vector length mismatch %d != %d", len(a), len(b)))
	}

	dot := floats.Dot(a, b)
	normA := math.Sqrt(floats.Dot(a, a))
	normB := math.Sqrt(floats.Dot(b, b))

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (normA * normB)
	// Guard against float drift just outside [-1, 1].
	return math.Max(-1, math.Min(1, sim))
}

// normalizeVector returns a fresh unit-length copy of v. A zero vector is
// returned as an unchanged copy since it has no direction to preserve.
func normalizeVector(v []float64) []float64 {
	out := make([]float64, len(v))
	norm := math.Sqrt(floats.Dot(v, v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, val := range v {
		out[i] = val / norm
	}
	return out
}
