package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"plate/api/internal/model"
)

func receive(t *testing.T, sub Subscription) model.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed before event arrived")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.Event{}
}

func exerciseBus(t *testing.T, bus Bus) {
	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, PlateChannel("p1"), UserChannel("u1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	evt, err := model.NewEvent(model.EntityPlateItem, model.ChangeUpdate, "i1", map[string]string{"id": "i1"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	evt.PlateID = "p1"
	if err := bus.Publish(ctx, PlateChannel("p1"), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := receive(t, sub)
	if got.ID != "i1" || got.Entity != model.EntityPlateItem || got.PlateID != "p1" {
		t.Fatalf("unexpected event %+v", got)
	}

	if err := bus.Publish(ctx, PlateChannel("other"), evt); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	note, _ := model.NewEvent(model.EntityNotification, model.ChangeInsert, "n1", nil)
	if err := bus.Publish(ctx, UserChannel("u1"), note); err != nil {
		t.Fatalf("publish user: %v", err)
	}
	if got := receive(t, sub); got.ID != "n1" {
		t.Fatalf("expected only subscribed channels to deliver, got %+v", got)
	}
}

func TestLocalBus(t *testing.T) {
	exerciseBus(t, NewLocalBus())
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	exerciseBus(t, NewRedisBus(client))
}

func TestLocalSubscriptionClosesWithContext(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, TeamChannel("t1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}

	// publishing after close must not panic
	if err := bus.Publish(context.Background(), TeamChannel("t1"), model.Event{ID: "x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
