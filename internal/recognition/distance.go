package recognition

import (
	"fmt"
	"math"
	"strings"
)

// Metric measures how far apart two embeddings are. Smaller is closer.
type Metric func(a, b []float64) float64

const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// ParseMetric resolves a metric by name; empty selects Euclidean.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MetricEuclidean:
		return EuclideanDistance, nil
	case MetricCosine:
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("unknown match metric %q", name)
	}
}

// EuclideanDistance is the L2 distance. Vectors of different or zero length are infinitely far apart.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cosine similarity, in [0, 2].
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// float error can push similarity slightly outside [-1, 1]
	similarity = max(-1, min(1, similarity))
	return 1 - similarity
}
