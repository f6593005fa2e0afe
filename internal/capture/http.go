package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxSnapshotBytes = 8 << 20

// HTTPSnapshotSource polls an IP camera's still-image endpoint.
type HTTPSnapshotSource struct {
	name     string
	url      string
	http     *http.Client
	maxBytes int64
	seq      uint64
}

func NewHTTPSnapshotSource(name, url string) *HTTPSnapshotSource {
	return &HTTPSnapshotSource{
		name:     name,
		url:      url,
		http:     &http.Client{Timeout: 5 * time.Second},
		maxBytes: maxSnapshotBytes,
	}
}

func (s *HTTPSnapshotSource) Name() string { return s.name }

// Read fetches one snapshot. Transport errors, non-2xx responses and oversized bodies are reported as
// ErrUnavailable.
func (s *HTTPSnapshotSource) Read(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Frame{}, fmt.Errorf("%w: camera returned %s", ErrUnavailable, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if int64(len(data)) > s.maxBytes {
		return Frame{}, fmt.Errorf("%w: snapshot exceeds %d bytes", ErrUnavailable, s.maxBytes)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty snapshot", ErrUnavailable)
	}
	s.seq++
	return Frame{
		Seq:         s.seq,
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		CapturedAt:  time.Now(),
	}, nil
}

func (s *HTTPSnapshotSource) Close() error {
	s.http.CloseIdleConnections()
	return nil
}
