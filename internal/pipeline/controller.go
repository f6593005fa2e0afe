package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"faceattend/internal/capture"
	"faceattend/internal/events"
	"faceattend/internal/recognition"
)

// Camera names a capture location.
type Camera struct {
	Name     string
	Location string
}

// Deps are the collaborators shared by all streams.
type Deps struct {
	Face           FaceService
	Matcher        *recognition.Matcher
	Recorder       Recorder
	Publisher      events.Publisher
	RequiredBlinks int
	Scheduler      SchedulerConfig
	// Open creates a capture source; defaults to capture.Open.
	Open   func(name, location string) (capture.Source, error)
	Logger zerolog.Logger
}

// StreamStatus describes one running or finished stream.
type StreamStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Status is the controller state.
type Status struct {
	Running   bool           `json:"running"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Streams   []StreamStatus `json:"streams"`
}

// ErrStopping is returned by Start while streams of a previous run have not yet released their sources.
var ErrStopping = errors.New("previous streams are still stopping")

// Controller starts and stops one stream per camera. Start on a running controller and Stop on a stopped
// one are no-ops. The controller counts as running while at least one stream is live; once every stream
// has ended on its own, Start launches a fresh run.
type Controller struct {
	base    context.Context
	cameras []Camera
	deps    Deps

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	live      atomic.Int32
	streams   []*StreamStatus
	statusMu  sync.Mutex
}

// NewController creates a stopped controller. Streams live until Stop or until base ends.
func NewController(base context.Context, cameras []Camera, deps Deps) *Controller {
	if deps.Open == nil {
		deps.Open = capture.Open
	}
	deps.Logger = deps.Logger.With().Str("component", "pipeline").Logger()
	return &Controller{base: base, cameras: cameras, deps: deps}
}

// Start opens every camera and launches its stream. If any camera fails to open, the ones already
// opened are closed and nothing runs.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live.Load() > 0 {
		if c.running {
			return nil
		}
		return ErrStopping
	}
	if len(c.cameras) == 0 {
		return errors.New("no cameras configured")
	}

	sources := make([]capture.Source, 0, len(c.cameras))
	for _, cam := range c.cameras {
		src, err := c.deps.Open(cam.Name, cam.Location)
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
			return fmt.Errorf("open camera %s: %w", cam.Name, err)
		}
		sources = append(sources, src)
	}

	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	wg := &sync.WaitGroup{}
	c.wg = wg
	c.live.Add(int32(len(sources)))
	c.running = true
	c.startedAt = time.Now()
	c.statusMu.Lock()
	c.streams = make([]*StreamStatus, len(sources))
	c.statusMu.Unlock()

	for i, src := range sources {
		st := &StreamStatus{Name: src.Name(), Running: true}
		c.statusMu.Lock()
		c.streams[i] = st
		c.statusMu.Unlock()

		wg.Add(1)
		go c.runStream(runCtx, wg, src, st)
	}

	c.deps.Logger.Info().Int("streams", len(sources)).Msg("pipeline started")
	c.publish(ctx, events.System(true, "Recognition system started"))
	return nil
}

func (c *Controller) runStream(ctx context.Context, wg *sync.WaitGroup, src capture.Source, st *StreamStatus) {
	defer wg.Done()
	defer c.live.Add(-1)
	defer func() {
		if err := src.Close(); err != nil {
			c.deps.Logger.Warn().Err(err).Str("stream", src.Name()).Msg("close source failed")
		}
	}()

	stream := newStream(src.Name(), c.deps)
	err := NewScheduler(src, c.deps.Scheduler, c.deps.Logger).Run(ctx, stream.processFrame)

	c.statusMu.Lock()
	st.Running = false
	if err != nil {
		st.Error = err.Error()
	}
	c.statusMu.Unlock()
	if err != nil {
		c.deps.Logger.Error().Err(err).Str("stream", src.Name()).Msg("stream stopped")
	}
}

// Stop cancels all streams and waits for them to finish their current frame and release their sources.
// If ctx ends first the controller is marked stopped, but Start keeps returning ErrStopping until the
// remaining streams are gone.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.cancel()

	wg := c.wg
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for streams: %w", ctx.Err())
	}

	c.running = false
	c.deps.Logger.Info().Msg("pipeline stopped")
	c.publish(ctx, events.System(false, "Recognition system stopped"))
	return err
}

// Running reports whether streams were started, not stopped, and at least one is still live.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.live.Load() > 0
}

// Status snapshots the controller and its streams.
func (c *Controller) Status() Status {
	c.mu.Lock()
	running, startedAt := c.running && c.live.Load() > 0, c.startedAt
	c.mu.Unlock()

	st := Status{Running: running, Streams: []StreamStatus{}}
	if running {
		st.StartedAt = &startedAt
	}
	c.statusMu.Lock()
	for _, s := range c.streams {
		st.Streams = append(st.Streams, *s)
	}
	c.statusMu.Unlock()
	return st
}

func (c *Controller) publish(ctx context.Context, ev events.Event) {
	if c.deps.Publisher != nil {
		c.deps.Publisher.Publish(ctx, ev)
	}
}
