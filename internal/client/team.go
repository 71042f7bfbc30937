package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"plate/api/internal/mirror"
	"plate/api/internal/model"
)

// Notifications

type Notifications struct {
	c      *Client
	mirror *mirror.Mirror[model.Notification]
}

func newNotifications(c *Client) *Notifications {
	return &Notifications{c: c, mirror: mirror.New(func(n model.Notification) string { return n.ID })}
}

func (n *Notifications) Refresh(ctx context.Context, unreadOnly bool) error {
	return n.mirror.Refresh(ctx, func(ctx context.Context) ([]model.Notification, error) {
		params := map[string]string{}
		if unreadOnly {
			params["unread"] = "true"
		}
		var out struct {
			Notifications []model.Notification `json:"notifications"`
		}
		err := n.c.do(ctx, http.MethodGet, "/api/notifications"+query(params), nil, &out)
		return out.Notifications, err
	})
}

// Items returns the mirrored notifications newest first. Pushed inserts land
// at the tail of the mirror, so order is restored here.
func (n *Notifications) Items() []model.Notification {
	items := n.mirror.Items()
	slices.SortStableFunc(items, func(a, b model.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return items
}

func (n *Notifications) Unread() int {
	count := 0
	for _, item := range n.mirror.Items() {
		if !item.Read {
			count++
		}
	}
	return count
}

// apply handles notification pushes. Read-state updates carry only the id
// and the flag, so they patch the mirrored entry instead of replacing it.
func (n *Notifications) apply(evt model.Event) error {
	if evt.Change != model.ChangeUpdate {
		return applyTo(n.mirror, evt)
	}
	var patch struct {
		Read *bool `json:"read"`
	}
	if err := json.Unmarshal(evt.Data, &patch); err != nil {
		return fmt.Errorf("decode notification event: %w", err)
	}
	if patch.Read != nil {
		n.mirror.Mutate(evt.ID, func(item model.Notification) model.Notification {
			item.Read = *patch.Read
			return item
		})
	}
	return nil
}

func (n *Notifications) MarkRead(id string) *Pending {
	n.mirror.Mutate(id, func(item model.Notification) model.Notification { item.Read = true; return item })
	return n.c.background("mark notification read", func(ctx context.Context) error {
		return n.c.do(ctx, http.MethodPut, "/api/notifications/"+id, map[string]bool{"read": true}, nil)
	})
}

func (n *Notifications) MarkAllRead(ctx context.Context) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := n.c.do(ctx, http.MethodPut, "/api/notifications/read-all", nil, &out); err != nil {
		return 0, err
	}
	for _, item := range n.mirror.Items() {
		n.mirror.Mutate(item.ID, func(item model.Notification) model.Notification { item.Read = true; return item })
	}
	return out.Updated, nil
}

// Team

type Team struct {
	c      *Client
	mirror *mirror.Mirror[model.TeamMember]
}

func newTeam(c *Client) *Team {
	return &Team{c: c, mirror: mirror.New(func(m model.TeamMember) string { return m.UserID })}
}

func (t *Team) Refresh(ctx context.Context) error {
	return t.mirror.Refresh(ctx, func(ctx context.Context) ([]model.TeamMember, error) {
		var out struct {
			Members []model.TeamMember `json:"members"`
		}
		err := t.c.do(ctx, http.MethodGet, "/api/team", nil, &out)
		return out.Members, err
	})
}

func (t *Team) Members() []model.TeamMember { return t.mirror.Items() }

type InviteResult struct {
	Member        model.UserProfile `json:"member"`
	Created       bool              `json:"created"`
	DevSetupToken string            `json:"devSetupToken"`
}

func (t *Team) Invite(ctx context.Context, email, displayName, role string) (InviteResult, error) {
	var out InviteResult
	err := t.c.do(ctx, http.MethodPost, "/api/team/invite", map[string]string{
		"email":       email,
		"displayName": displayName,
		"role":        role,
	}, &out)
	return out, err
}

// SetRole changes a teammate's role locally and on the server.
func (t *Team) SetRole(userID, role string) *Pending {
	t.mirror.Mutate(userID, func(m model.TeamMember) model.TeamMember { m.Role = role; return m })
	return t.c.background("update member role", func(ctx context.Context) error {
		return t.c.do(ctx, http.MethodPut, "/api/team/"+userID, map[string]string{"role": role}, nil)
	})
}

func (t *Team) Remove(userID string) *Pending {
	t.mirror.ApplyRemoteEvent(mirror.Event[model.TeamMember]{Change: model.ChangeRemove, ID: userID})
	return t.c.background("remove member", func(ctx context.Context) error {
		return t.c.do(ctx, http.MethodDelete, "/api/team/"+userID, nil, nil)
	})
}
