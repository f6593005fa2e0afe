package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/capture"
	"faceattend/internal/events"
)

type sourceTracker struct {
	opened atomic.Int32
	closed atomic.Int32
	reads  atomic.Int64
	failOn string
}

func (tr *sourceTracker) open(name, _ string) (capture.Source, error) {
	if name == tr.failOn {
		return nil, errors.New("no such camera")
	}
	tr.opened.Add(1)
	var once sync.Once
	return &capture.FuncSource{
		SourceName: name,
		ReadFunc: func(ctx context.Context) (capture.Frame, error) {
			tr.reads.Add(1)
			return capture.Frame{Data: []byte("empty")}, nil
		},
		CloseFunc: func() error {
			once.Do(func() { tr.closed.Add(1) })
			return nil
		},
	}, nil
}

func newTestController(t *testing.T, tr *sourceTracker, log *eventLog) *Controller {
	face := &scriptedFace{faces: map[string][][]float64{"empty": nil}}
	deps := testDeps(face, &fakeRecorder{}, log)
	deps.Open = tr.open
	deps.Scheduler = SchedulerConfig{Stride: 1, Interval: time.Millisecond}
	return NewController(context.Background(), []Camera{{Name: "front", Location: "x"}, {Name: "back", Location: "y"}}, deps)
}

func TestControllerStartStopIsIdempotent(t *testing.T) {
	tr := &sourceTracker{}
	log := &eventLog{}
	c := newTestController(t, tr, log)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx), "stop before start is a no-op")
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, int32(2), tr.opened.Load())
	assert.True(t, c.Running())

	require.Eventually(t, func() bool { return tr.reads.Load() > 4 }, 2*time.Second, time.Millisecond)
	st := c.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Streams, 2)
	assert.True(t, st.Streams[0].Running)

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.Running())
	assert.Equal(t, int32(2), tr.closed.Load(), "stop releases every source")

	reads := tr.reads.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, reads, tr.reads.Load(), "no reads after stop")
	for _, s := range c.Status().Streams {
		assert.False(t, s.Running)
	}

	var system []events.Type
	for _, typ := range log.types() {
		if typ == events.SystemStarted || typ == events.SystemStopped {
			system = append(system, typ)
		}
	}
	assert.Equal(t, []events.Type{events.SystemStarted, events.SystemStopped}, system)

	require.NoError(t, c.Start(ctx), "restart after stop")
	assert.Equal(t, int32(4), tr.opened.Load())
	require.NoError(t, c.Stop(ctx))
}

func TestControllerStartFailureClosesOpenedSources(t *testing.T) {
	tr := &sourceTracker{failOn: "back"}
	c := newTestController(t, tr, &eventLog{})

	require.Error(t, c.Start(context.Background()))
	assert.False(t, c.Running())
	assert.Equal(t, int32(1), tr.opened.Load())
	assert.Equal(t, int32(1), tr.closed.Load())
}

func TestControllerWithoutCameras(t *testing.T) {
	c := NewController(context.Background(), nil, Deps{})
	require.Error(t, c.Start(context.Background()))
}

func TestControllerRestartsAfterStreamsEndOnTheirOwn(t *testing.T) {
	var opened atomic.Int32
	open := func(name, _ string) (capture.Source, error) {
		opened.Add(1)
		return &capture.FuncSource{
			SourceName: name,
			ReadFunc: func(context.Context) (capture.Frame, error) {
				return capture.Frame{}, capture.ErrUnavailable
			},
		}, nil
	}
	deps := testDeps(&scriptedFace{}, &fakeRecorder{}, &eventLog{})
	deps.Open = open
	deps.Scheduler = SchedulerConfig{Stride: 1, MaxFailures: 1}
	c := NewController(context.Background(), []Camera{{Name: "front", Location: "x"}}, deps)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool { return !c.Status().Running }, 2*time.Second, time.Millisecond)
	assert.False(t, c.Running())
	st := c.Status()
	require.Len(t, st.Streams, 1)
	assert.False(t, st.Streams[0].Running)
	assert.Contains(t, st.Streams[0].Error, ErrTooManyFailures.Error())
	assert.Nil(t, st.StartedAt)

	require.NoError(t, c.Start(ctx), "start after every stream ended relaunches")
	assert.Equal(t, int32(2), opened.Load())
	require.NoError(t, c.Stop(ctx))
}

func TestControllerRefusesStartWhileOldStreamsDrain(t *testing.T) {
	release := make(chan struct{})
	var opened, closed atomic.Int32
	open := func(name, _ string) (capture.Source, error) {
		opened.Add(1)
		return &capture.FuncSource{
			SourceName: name,
			ReadFunc: func(context.Context) (capture.Frame, error) {
				<-release
				return capture.Frame{Data: []byte("empty")}, nil
			},
			CloseFunc: func() error {
				closed.Add(1)
				return nil
			},
		}, nil
	}
	deps := testDeps(&scriptedFace{faces: map[string][][]float64{"empty": nil}}, &fakeRecorder{}, &eventLog{})
	deps.Open = open
	deps.Scheduler = SchedulerConfig{Stride: 1, Interval: time.Millisecond}
	c := NewController(context.Background(), []Camera{{Name: "front", Location: "x"}}, deps)

	require.NoError(t, c.Start(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, c.Stop(stopCtx), "stream is stuck in a read")
	assert.False(t, c.Running())

	require.ErrorIs(t, c.Start(context.Background()), ErrStopping)
	assert.Equal(t, int32(1), opened.Load(), "no second stream on the same camera")

	close(release)
	require.Eventually(t, func() bool { return closed.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Start(context.Background()) == nil }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(2), opened.Load())
	require.NoError(t, c.Stop(context.Background()))
}
