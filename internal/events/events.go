// Package events fans change events out to connected clients. Events are
// published on named channels: one per plate, one per team and one per user.
package events

import (
	"context"

	"plate/api/internal/model"
)

func PlateChannel(plateID string) string { return "plate:" + plateID }
func TeamChannel(teamID string) string   { return "team:" + teamID }
func UserChannel(userID string) string   { return "user:" + userID }

// Bus publishes and subscribes to event channels.
type Bus interface {
	Publish(ctx context.Context, channel string, evt model.Event) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

// Subscription delivers events until Close is called or its context ends.
type Subscription interface {
	Events() <-chan model.Event
	Close() error
}

const subscriberBuffer = 64
