package events

import (
	"context"
	"sync"

	"plate/api/internal/logging"
	"plate/api/internal/model"
)

// LocalBus is an in-process Bus used when Redis is not configured. Delivery
// never blocks the publisher: a subscriber whose buffer is full misses the
// event.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*localSub
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]*localSub)}
}

func (b *LocalBus) Publish(_ context.Context, channel string, evt model.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- evt:
		default:
			logging.Component("events").WithField("channel", channel).Warn("subscriber buffer full, dropping event")
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &localSub{
		id:       b.nextID,
		bus:      b,
		channels: channels,
		ch:       make(chan model.Event, subscriberBuffer),
		done:     make(chan struct{}),
	}
	for _, channel := range channels {
		if b.subs[channel] == nil {
			b.subs[channel] = make(map[int]*localSub)
		}
		b.subs[channel][sub.id] = sub
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	subs := make([]*localSub, 0)
	for _, byID := range b.subs {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (b *LocalBus) remove(sub *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, channel := range sub.channels {
		delete(b.subs[channel], sub.id)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
}

type localSub struct {
	id       int
	bus      *LocalBus
	channels []string
	ch       chan model.Event
	done     chan struct{}
	once     sync.Once
}

func (s *localSub) Events() <-chan model.Event { return s.ch }

// Close detaches the subscription and closes its channel. Removal happens
// under the bus write lock, so no publisher can be sending when ch closes.
func (s *localSub) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.done)
		close(s.ch)
	})
	return nil
}
