package recognition

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/attendance"
)

type staticSource struct {
	mu       sync.Mutex
	students []attendance.Student
	err      error
	calls    atomic.Int32
	block    chan struct{}
}

func (s *staticSource) GalleryStudents(ctx context.Context) ([]attendance.Student, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.students, s.err
}

func (s *staticSource) set(students []attendance.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = students
}

func galleryWith(entries ...Entry) *Gallery {
	g := NewGallery(&staticSource{}, zerolog.Nop())
	g.Replace(entries)
	return g
}

func TestDistances(t *testing.T) {
	assert.InDelta(t, 5.0, EuclideanDistance([]float64{0, 0}, []float64{3, 4}), 1e-12)
	assert.True(t, math.IsInf(EuclideanDistance([]float64{1}, []float64{1, 2}), 1))
	assert.True(t, math.IsInf(EuclideanDistance(nil, nil), 1))

	assert.InDelta(t, 0.0, CosineDistance([]float64{1, 1}, []float64{2, 2}), 1e-12)
	assert.InDelta(t, 2.0, CosineDistance([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.InDelta(t, 1.0, CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Equal(t, 2.0, CosineDistance([]float64{0, 0}, []float64{1, 0}))

	m, err := ParseMetric("COSINE")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m([]float64{1, 0}, []float64{0, 1}), 1e-12)
	_, err = ParseMetric("manhattan")
	require.Error(t, err)
}

func TestMatchExactEmbeddingHasFullConfidence(t *testing.T) {
	m := NewMatcher(galleryWith(Entry{StudentID: "s1", Name: "Ada", Embedding: []float64{0.1, 0.2, 0.3}}), 0, nil)

	got := m.Match([][]float64{{0.1, 0.2, 0.3}})
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].StudentID)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Zero(t, got[0].Distance)
}

func TestMatchThresholdIsStrict(t *testing.T) {
	m := NewMatcher(galleryWith(Entry{StudentID: "s1", Name: "Ada", Embedding: []float64{0, 0}}), 0.6, nil)

	assert.Empty(t, m.Match([][]float64{{0.6, 0}}), "distance equal to threshold must not match")
	assert.Empty(t, m.Match([][]float64{{3, 4}}))

	got := m.Match([][]float64{{0.1, 0}})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-12)
	assert.InDelta(t, 0.1, got[0].Distance, 1e-12)
}

func TestMatchTieGoesToFirstInGalleryOrder(t *testing.T) {
	m := NewMatcher(galleryWith(
		Entry{StudentID: "first", Name: "First", Embedding: []float64{0.2, 0}},
		Entry{StudentID: "second", Name: "Second", Embedding: []float64{-0.2, 0}},
	), 0, nil)

	got := m.Match([][]float64{{0, 0}})
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].StudentID)
}

func TestMatchPicksNearestAndSkipsUnknownFaces(t *testing.T) {
	m := NewMatcher(galleryWith(
		Entry{StudentID: "a", Name: "A", Embedding: []float64{0, 0}},
		Entry{StudentID: "b", Name: "B", Embedding: []float64{1, 0}},
		Entry{StudentID: "short", Name: "Short", Embedding: []float64{1}},
	), 0, nil)

	got := m.Match([][]float64{{0.9, 0}, {10, 10}, {0.05, 0}})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].StudentID)
	assert.Equal(t, "a", got[1].StudentID)
}

func TestMatchEmptyGallery(t *testing.T) {
	m := NewMatcher(NewGallery(&staticSource{}, zerolog.Nop()), 0, nil)
	assert.Empty(t, m.Match([][]float64{{0, 0}}))
	assert.Empty(t, m.Match(nil))
}

func TestReloadFiltersAndKeepsOrder(t *testing.T) {
	src := &staticSource{students: []attendance.Student{
		{ID: "1", Name: "One", Embedding: attendance.Embedding{1, 0}},
		{ID: "2", Name: "Two"},
		{ID: "3", Name: "Three", Embedding: attendance.Embedding{0, 1}},
	}}
	g := NewGallery(src, zerolog.Nop())

	n, err := g.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	snap := g.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "1", snap.Entries[0].StudentID)
	assert.Equal(t, "3", snap.Entries[1].StudentID)

	src.err = errors.New("db down")
	_, err = g.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, snap, g.Snapshot(), "failed reload keeps the previous generation")
}

func TestConcurrentReloadsAndMatchesSeeWholeGenerations(t *testing.T) {
	// Every generation holds two entries with identical embeddings and matching ids, so a torn
	// read would show up as a mismatched id/name pair.
	gen := func(i int) []attendance.Student {
		id := string(rune('a' + i%26))
		return []attendance.Student{
			{ID: id, Name: "name-" + id, Embedding: attendance.Embedding{0, 0}},
			{ID: id + "-2", Name: "name-" + id + "-2", Embedding: attendance.Embedding{5, 5}},
		}
	}
	src := &staticSource{students: gen(0)}
	g := NewGallery(src, zerolog.Nop())
	_, err := g.Reload(context.Background())
	require.NoError(t, err)
	m := NewMatcher(g, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ctx.Err() == nil && i < 200; i++ {
			src.set(gen(i))
			_, _ = g.Reload(ctx)
		}
	}()

	for i := 0; i < 2000; i++ {
		got := m.Match([][]float64{{0, 0}})
		require.Len(t, got, 1)
		assert.Equal(t, "name-"+got[0].StudentID, got[0].Name)
		assert.Len(t, g.Snapshot().Entries, 2)
	}
	cancel()
	wg.Wait()
}

func TestReloadCoalescesConcurrentCallers(t *testing.T) {
	src := &staticSource{students: []attendance.Student{{ID: "1", Name: "One", Embedding: attendance.Embedding{1}}}, block: make(chan struct{})}
	g := NewGallery(src, zerolog.Nop())

	const callers = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			n, err := g.Reload(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 1, n)
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	close(src.block)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(callers))
	assert.Equal(t, 1, g.Len())
}
