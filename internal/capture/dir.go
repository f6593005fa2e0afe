package capture

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var imageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirSource replays the images of a directory in name order.
type DirSource struct {
	name  string
	files []string
	loop  bool
	next  int
	seq   uint64
}

// NewDirSource lists the images under dir. With loop set the replay restarts at the end instead of
// returning ErrExhausted.
func NewDirSource(name, dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &DirSource{name: name, files: files, loop: loop}, nil
}

func (s *DirSource) Name() string { return s.name }

func (s *DirSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if len(s.files) == 0 {
		return Frame{}, ErrExhausted
	}
	if s.next >= len(s.files) {
		if !s.loop {
			return Frame{}, ErrExhausted
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.seq++
	return Frame{
		Seq:         s.seq,
		Data:        data,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		CapturedAt:  time.Now(),
	}, nil
}

func (s *DirSource) Close() error { return nil }
