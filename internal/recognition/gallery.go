package recognition

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"faceattend/internal/attendance"
	"faceattend/internal/metrics"
)

// Source lists enrolled, active students in a stable order.
type Source interface {
	GalleryStudents(ctx context.Context) ([]attendance.Student, error)
}

// Entry is one enrolled face.
type Entry struct {
	StudentID string
	Name      string
	Embedding []float64
}

// Snapshot is an immutable gallery generation. Entries must not be modified after publication.
type Snapshot struct {
	Entries  []Entry
	LoadedAt time.Time
}

// Gallery holds the current snapshot. Readers never block reloads and always see one whole generation.
type Gallery struct {
	source Source
	snap   atomic.Pointer[Snapshot]
	group  singleflight.Group
	logger zerolog.Logger
}

func NewGallery(source Source, logger zerolog.Logger) *Gallery {
	g := &Gallery{
		source: source,
		logger: logger.With().Str("component", "gallery").Logger(),
	}
	g.snap.Store(&Snapshot{})
	return g
}

// Snapshot returns the current generation.
func (g *Gallery) Snapshot() *Snapshot {
	return g.snap.Load()
}

// Len is the number of entries in the current generation.
func (g *Gallery) Len() int {
	return len(g.snap.Load().Entries)
}

// Replace publishes entries as a new generation.
func (g *Gallery) Replace(entries []Entry) {
	g.publish(&Snapshot{Entries: entries, LoadedAt: time.Now()})
}

// Reload rebuilds the gallery from the source. Concurrent calls share one load. On error the previous
// generation stays in place.
func (g *Gallery) Reload(ctx context.Context) (int, error) {
	v, err, _ := g.group.Do("reload", func() (any, error) {
		students, err := g.source.GalleryStudents(ctx)
		if err != nil {
			metrics.GalleryReloads().WithLabelValues("error").Inc()
			return 0, fmt.Errorf("load gallery: %w", err)
		}
		entries := make([]Entry, 0, len(students))
		for _, st := range students {
			if !st.FaceEnrolled() {
				continue
			}
			emb := make([]float64, len(st.Embedding))
			copy(emb, st.Embedding)
			entries = append(entries, Entry{StudentID: st.ID, Name: st.Name, Embedding: emb})
		}
		g.publish(&Snapshot{Entries: entries, LoadedAt: time.Now()})
		metrics.GalleryReloads().WithLabelValues("ok").Inc()
		g.logger.Info().Int("entries", len(entries)).Msg("gallery reloaded")
		return len(entries), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (g *Gallery) publish(s *Snapshot) {
	g.snap.Store(s)
	metrics.GalleryEntries().Set(float64(len(s.Entries)))
}
