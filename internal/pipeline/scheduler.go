// Package pipeline turns camera frames into attendance marks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"faceattend/internal/capture"
	"faceattend/internal/metrics"
)

const (
	DefaultStride   = 3
	DefaultInterval = 50 * time.Millisecond
	DefaultBackoff  = 100 * time.Millisecond
)

// SchedulerConfig controls frame decimation and pacing. Zero durations mean no delay.
type SchedulerConfig struct {
	// Stride forwards every Nth captured frame.
	Stride   int
	Interval time.Duration
	Backoff  time.Duration
	// MaxFailures ends the stream after that many consecutive failed reads; 0 retries forever.
	MaxFailures int
}

// DefaultSchedulerConfig returns the stock pacing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Stride: DefaultStride, Interval: DefaultInterval, Backoff: DefaultBackoff}
}

// ErrTooManyFailures ends a stream whose source kept failing.
var ErrTooManyFailures = errors.New("too many consecutive capture failures")

// Scheduler reads a source and forwards a decimated subset of frames.
type Scheduler struct {
	src    capture.Source
	cfg    SchedulerConfig
	logger zerolog.Logger
}

func NewScheduler(src capture.Source, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if cfg.Stride <= 0 {
		cfg.Stride = DefaultStride
	}
	return &Scheduler{src: src, cfg: cfg, logger: logger}
}

// Run forwards every Stride-th frame to handle until ctx ends or the source is exhausted. Cancellation
// is observed between frames only: a frame already handed to handle runs to completion with a context
// that is not cancelled by ctx.
func (s *Scheduler) Run(ctx context.Context, handle func(ctx context.Context, f capture.Frame)) error {
	stream := s.src.Name()
	frameCtx := context.WithoutCancel(ctx)
	var captured uint64
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := s.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, capture.ErrExhausted) {
				s.logger.Info().Str("stream", stream).Msg("source exhausted")
				return nil
			}
			failures++
			metrics.CaptureFailures().WithLabelValues(stream).Inc()
			if s.cfg.MaxFailures > 0 && failures > s.cfg.MaxFailures {
				return fmt.Errorf("stream %s: %w: %v", stream, ErrTooManyFailures, err)
			}
			s.logger.Debug().Err(err).Str("stream", stream).Int("failures", failures).Msg("capture failed")
			if !sleep(ctx, s.cfg.Backoff) {
				return nil
			}
			continue
		}

		failures = 0
		captured++
		metrics.FramesCaptured().WithLabelValues(stream).Inc()
		if captured%uint64(s.cfg.Stride) == 0 {
			metrics.FramesForwarded().WithLabelValues(stream).Inc()
			handle(frameCtx, frame)
		}

		if !sleep(ctx, s.cfg.Interval) {
			return nil
		}
	}
}

// sleep waits d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
