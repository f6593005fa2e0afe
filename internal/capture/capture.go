// Package capture reads frames from cameras and recordings.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable means no frame could be read right now; the caller may retry.
	ErrUnavailable = errors.New("frame unavailable")
	// ErrExhausted means a finite source has no more frames.
	ErrExhausted = errors.New("source exhausted")
)

// Frame is one encoded image.
type Frame struct {
	Seq         uint64
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Source yields frames one at a time. Read is called from a single goroutine.
type Source interface {
	Name() string
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Open picks a source implementation from the location scheme: http(s) URLs are polled as snapshot
// endpoints, dir:// paths and plain paths are replayed from disk.
func Open(name, location string) (Source, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTPSnapshotSource(name, location), nil
	case strings.HasPrefix(location, "dir://"):
		return NewDirSource(name, strings.TrimPrefix(location, "dir://"), false)
	case location != "":
		return NewDirSource(name, location, false)
	default:
		return nil, fmt.Errorf("camera %q has no location", name)
	}
}

// FuncSource adapts a function into a Source.
type FuncSource struct {
	SourceName string
	ReadFunc   func(ctx context.Context) (Frame, error)
	CloseFunc  func() error
}

func (f *FuncSource) Name() string { return f.SourceName }

func (f *FuncSource) Read(ctx context.Context) (Frame, error) { return f.ReadFunc(ctx) }

func (f *FuncSource) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}
