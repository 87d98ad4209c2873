package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/conversation-service/internal/events"
)

// RedisStreamPublisher appends state-change records to a Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisStreamPublisher constructs the publisher.
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream}
}

// Publish appends one record via XADD.
func (p *RedisStreamPublisher) Publish(ctx context.Context, event events.Event) error {
	if p.client == nil {
		return errors.New("redis client not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":            string(event.Type),
			"conversation_id": event.ConversationID,
			"payload":         payload,
		},
	}).Err()
}

// NATSPublisher publishes state-change records to a JetStream subject.
type NATSPublisher struct {
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher constructs the publisher.
func NewNATSPublisher(js nats.JetStreamContext, subject string) *NATSPublisher {
	return &NATSPublisher{js: js, subject: subject}
}

// Publish publishes one record.
func (p *NATSPublisher) Publish(ctx context.Context, event events.Event) error {
	if p.js == nil {
		return errors.New("jetstream context not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(p.subject, payload, nats.Context(ctx))
	return err
}
