package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"plate/api/internal/logging"
	"plate/api/internal/model"
)

// RedisBus publishes events through Redis pub/sub so every API instance
// can push them to its own websocket clients.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, evt model.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan model.Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(ctx)
	return sub, nil
}

// Close is a no-op; the shared client is owned by the caller.
func (b *RedisBus) Close() error {
	return nil
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan model.Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Events() <-chan model.Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSub) pump(ctx context.Context) {
	defer close(s.ch)
	log := logging.Component("events")
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var evt model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed event")
				continue
			}
			select {
			case s.ch <- evt:
			case <-s.done:
				return
			default:
				log.WithField("channel", msg.Channel).Warn("subscriber buffer full, dropping event")
			}
		}
	}
}
