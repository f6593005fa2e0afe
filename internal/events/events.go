// Package events fans pipeline and monitor events out to dashboards.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Type string

const (
	AttendanceUpdate  Type = "attendance_update"
	RecognitionStatus Type = "recognition_status"
	SystemStarted     Type = "system_started"
	SystemStopped     Type = "system_stopped"
	AbsenceAlert      Type = "absence_alert"
)

// Recognition status values.
const (
	StatusClear       = "clear"
	StatusUnknown     = "unknown"
	StatusRecognizing = "recognizing"
)

const subscriberBuffer = 64

// Event is one dashboard notification.
type Event struct {
	Type   Type           `json:"type"`
	Stream string         `json:"stream,omitempty"`
	Data   map[string]any `json:"data"`
	At     time.Time      `json:"timestamp"`
}

// Publisher accepts events. Publish never blocks on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Relay forwards locally published events to other processes.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
}

// Attendance announces a recorded arrival.
func Attendance(stream, studentName string, points int, at time.Time) Event {
	return Event{Type: AttendanceUpdate, Stream: stream, At: at, Data: map[string]any{
		"student_name": studentName,
		"points":       points,
		"timestamp":    at.Format(time.RFC3339),
	}}
}

// Recognition reports what the last processed frame showed.
func Recognition(stream, status, message string) Event {
	return Event{Type: RecognitionStatus, Stream: stream, At: time.Now(), Data: map[string]any{
		"status":  status,
		"message": message,
	}}
}

// System reports a start or stop of the pipeline.
func System(started bool, message string) Event {
	t := SystemStopped
	if started {
		t = SystemStarted
	}
	return Event{Type: t, At: time.Now(), Data: map[string]any{"message": message}}
}

// Absence announces an absence alert.
func Absence(studentName, message string) Event {
	return Event{Type: AbsenceAlert, At: time.Now(), Data: map[string]any{
		"student_name": studentName,
		"message":      message,
	}}
}

// Hub delivers events to in-process subscribers and, when configured, to a relay.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	relay  Relay
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// WithRelay forwards every published event to r as well.
func (h *Hub) WithRelay(r Relay) *Hub {
	h.relay = r
	return h
}

// Publish delivers locally and then relays. Relay errors are logged.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.Deliver(ev)
	if h.relay != nil {
		if err := h.relay.Publish(ctx, ev); err != nil {
			h.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("relay publish failed")
		}
	}
}

// Deliver fans ev out to local subscribers only. A subscriber whose buffer is full misses the event.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of local subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
