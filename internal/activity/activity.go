// Package activity records and lists the audit trail shown on plates,
// cards and user profiles.
package activity

import (
	"context"

	"plate/api/internal/model"
)

// Actions recorded in the feed.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionArchived  = "archived"
	ActionRestored  = "restored"
	ActionDeleted   = "deleted"
	ActionMoved     = "moved"
	ActionCommented = "commented"
	ActionAssigned  = "assigned"
	ActionAttached  = "attached"
)

// Filter selects entries. TeamID is always applied; the other fields narrow
// further when set.
type Filter struct {
	TeamID      string
	PlateID     string
	PlateItemID string
	UserID      string
	Limit       int
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 200 {
		return 50
	}
	return f.Limit
}

// Feed stores activity entries, newest first on read.
type Feed interface {
	Record(ctx context.Context, entry model.Activity) error
	List(ctx context.Context, filter Filter) ([]model.Activity, error)
}
