package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type envelope struct {
	Source string    `json:"source"`
	Event  Event     `json:"event"`
	SentAt time.Time `json:"sent_at"`
}

// RedisRelay shares events between API replicas over Redis pub/sub. Each relay tags what it sends with
// its node id and ignores its own messages.
type RedisRelay struct {
	client  *redis.Client
	channel string
	nodeID  string
	backoff time.Duration
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		nodeID:  uuid.NewString(),
		backoff: time.Second,
		logger:  logger.With().Str("component", "event_relay").Logger(),
	}
}

// NodeID identifies this relay.
func (r *RedisRelay) NodeID() string { return r.nodeID }

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(envelope{Source: r.nodeID, Event: ev, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run subscribes to the channel and hands events from other nodes to deliver until ctx ends.
// ready, when non-nil, is closed once the subscription is first confirmed. Redis outages are logged and
// retried; the pub/sub client resubscribes on reconnect.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Event), ready chan<- struct{}) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	for {
		_, err := pubsub.Receive(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn().Err(err).Msg("event subscription failed, retrying")
		if !r.wait(ctx) {
			return
		}
	}
	if ready != nil {
		close(ready)
	}

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn().Err(err).Msg("event subscription interrupted, retrying")
			if !r.wait(ctx) {
				return
			}
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.logger.Warn().Err(err).Msg("invalid event payload")
			continue
		}
		if env.Source == r.nodeID {
			continue
		}
		deliver(env.Event)
	}
}

func (r *RedisRelay) wait(ctx context.Context) bool {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
