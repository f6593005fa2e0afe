// Package notify delivers absence alerts to guardians.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"faceattend/internal/queue"
)

// MessageType tags absence notices on the queue.
const MessageType = "absence_alert"

// Notice is one guardian notification.
type Notice struct {
	AlertID     string `json:"alert_id"`
	Contact     string `json:"contact"`
	StudentName string `json:"student_name"`
	DaysAbsent  int    `json:"days_absent"`
}

// Text renders the guardian-facing message.
func (n Notice) Text() string {
	return fmt.Sprintf("Attendance alert: %s has been absent for %d+ consecutive days. Please contact the school.",
		n.StudentName, n.DaysAbsent)
}

// ErrNoChannel is returned by notifiers that only record a notice; the alert is neither sent nor delivered.
var ErrNoChannel = errors.New("no delivery channel configured")

// Notifier sends absence alerts. A nil error means the notice was accepted for delivery.
type Notifier interface {
	SendAbsenceAlert(ctx context.Context, n Notice) error
}

// LogNotifier only logs notices; used when no delivery channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) SendAbsenceAlert(_ context.Context, n Notice) error {
	l.logger.Info().
		Str("alert_id", n.AlertID).
		Str("student", n.StudentName).
		Int("days", n.DaysAbsent).
		Msg("absence alert (no delivery channel configured)")
	return ErrNoChannel
}

// QueueNotifier hands notices to the worker through the queue.
type QueueNotifier struct {
	q queue.Queue
}

func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{q: q}
}

func (qn *QueueNotifier) SendAbsenceAlert(ctx context.Context, n Notice) error {
	msg, err := queue.NewMessage(MessageType, n)
	if err != nil {
		return err
	}
	if err := qn.q.Publish(ctx, msg); err != nil {
		return fmt.Errorf("enqueue notice %s: %w", n.AlertID, err)
	}
	return nil
}

// Direct returns wa when it has credentials and a LogNotifier otherwise.
func Direct(wa *WhatsApp, logger zerolog.Logger) Notifier {
	if wa != nil && wa.Configured() {
		return wa
	}
	return NewLogNotifier(logger)
}
