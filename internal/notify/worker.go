package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"faceattend/internal/queue"
)

// DeliveryStore records that a queued alert reached its channel.
type DeliveryStore interface {
	MarkAlertDelivered(ctx context.Context, id string) error
}

// Worker drains queued notices into a delivery channel.
type Worker struct {
	q      queue.Queue
	sender Notifier
	store  DeliveryStore
	logger zerolog.Logger
}

func NewWorker(q queue.Queue, sender Notifier, store DeliveryStore, logger zerolog.Logger) *Worker {
	return &Worker{q: q, sender: sender, store: store, logger: logger.With().Str("component", "notify-worker").Logger()}
}

// Run consumes until ctx ends. A failed delivery is logged and the alert stays undelivered.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info().Msg("worker started, waiting for notices")
	for msg := range messages {
		w.handle(ctx, msg)
	}
	w.logger.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	if msg.Type != MessageType {
		w.logger.Warn().Str("type", msg.Type).Msg("skipping unknown message")
		return
	}
	var n Notice
	if err := msg.Decode(&n); err != nil {
		w.logger.Error().Err(err).Msg("decode notice")
		return
	}
	log := w.logger.With().Str("alert_id", n.AlertID).Logger()
	if err := w.sender.SendAbsenceAlert(ctx, n); err != nil {
		if errors.Is(err, ErrNoChannel) {
			log.Info().Msg("notice logged only, alert left undelivered")
			return
		}
		log.Error().Err(err).Msg("delivery failed")
		return
	}
	if err := w.store.MarkAlertDelivered(ctx, n.AlertID); err != nil {
		log.Error().Err(err).Msg("mark delivered")
		return
	}
	log.Info().Str("student", n.StudentName).Msg("notice delivered")
}
