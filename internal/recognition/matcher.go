package recognition

import (
	"faceattend/internal/metrics"
)

// DefaultThreshold is the distance a match must stay strictly under.
const DefaultThreshold = 0.6

// Match is an accepted identification.
type Match struct {
	StudentID  string  `json:"student_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

// Matcher identifies embeddings against the gallery by nearest neighbour.
type Matcher struct {
	gallery   *Gallery
	threshold float64
	distance  Metric
}

// NewMatcher returns a matcher. A non-positive threshold selects DefaultThreshold, a nil metric Euclidean.
func NewMatcher(gallery *Gallery, threshold float64, metric Metric) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if metric == nil {
		metric = EuclideanDistance
	}
	return &Matcher{gallery: gallery, threshold: threshold, distance: metric}
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match returns one Match per embedding whose nearest gallery entry is closer than the threshold.
// All embeddings are compared against the same gallery generation.
func (m *Matcher) Match(embeddings [][]float64) []Match {
	snap := m.gallery.Snapshot()
	var out []Match
	for _, emb := range embeddings {
		match, ok := m.nearest(snap, emb)
		if !ok {
			metrics.FaceMatches().WithLabelValues("unknown").Inc()
			continue
		}
		metrics.FaceMatches().WithLabelValues("matched").Inc()
		out = append(out, match)
	}
	return out
}

// nearest scans in gallery order; on equal distance the earlier entry wins.
func (m *Matcher) nearest(snap *Snapshot, emb []float64) (Match, bool) {
	best := -1
	bestDist := 0.0
	for i, entry := range snap.Entries {
		d := m.distance(emb, entry.Embedding)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || !(bestDist < m.threshold) {
		return Match{}, false
	}
	entry := snap.Entries[best]
	return Match{
		StudentID:  entry.StudentID,
		Name:       entry.Name,
		Confidence: 1 - bestDist,
		Distance:   bestDist,
	}, true
}
