package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"plate/api/internal/model"
)

// ErrStreamUnauthorized means the server refused the websocket handshake;
// reconnecting with the same token would fail again.
var ErrStreamUnauthorized = errors.New("stream unauthorized")

// Stream receives push events over the notifications websocket and applies
// them to the client's mirrors and plate views.
type Stream struct {
	c        *Client
	plateIDs []string
	dialer   *websocket.Dialer

	// OnEvent, when set, sees every event after it was applied.
	OnEvent func(model.Event)

	reconnectDelay time.Duration
	maxReconnect   time.Duration
	after          func(time.Duration) <-chan time.Time
}

// Stream prepares a subscription to the caller's notifications, team-wide
// plate changes and the detailed changes of plateIDs.
func (c *Client) Stream(plateIDs ...string) *Stream {
	return &Stream{
		c:              c,
		plateIDs:       plateIDs,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: time.Second,
		maxReconnect:   time.Minute,
		after:          time.After,
	}
}

func (s *Stream) endpoint() (string, error) {
	base, err := url.Parse(s.c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/api/notifications/stream"
	params := url.Values{}
	params.Set("access_token", s.c.accessToken())
	for _, id := range s.plateIDs {
		params.Add("plateId", id)
	}
	base.RawQuery = params.Encode()
	return base.String(), nil
}

// Run connects and applies events until ctx is cancelled. Dropped
// connections are retried with exponential backoff; an expired token is
// refreshed once per rejected handshake. The backoff starts over after every
// connection that was established.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.reconnectDelay
	refreshed := false
	for {
		connected, err := s.runOnce(ctx)
		if connected {
			delay = s.reconnectDelay
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrStreamUnauthorized) {
			if refreshed || s.c.Session().RefreshToken == "" {
				return err
			}
			if _, refreshErr := s.c.Refresh(ctx); refreshErr != nil {
				return err
			}
			refreshed = true
			continue
		}
		refreshed = false
		if err != nil {
			log.WithError(err).WithField("retry_in", delay.String()).Warn("stream disconnected")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(delay):
		}
		delay *= 2
		if delay > s.maxReconnect {
			delay = s.maxReconnect
		}
	}
}

// runOnce reports whether the handshake succeeded alongside the error that
// ended the connection.
func (s *Stream) runOnce(ctx context.Context) (bool, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return false, err
	}
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return false, ErrStreamUnauthorized
		}
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return false, decodeAPIError(resp)
		}
		return false, fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()
	log.WithField("plates", len(s.plateIDs)).Info("stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var evt model.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, nil
			}
			return true, fmt.Errorf("read stream: %w", err)
		}
		if err := s.c.Apply(evt); err != nil {
			log.WithError(err).WithField("entity", evt.Entity).Warn("apply event")
			continue
		}
		if s.OnEvent != nil {
			s.OnEvent(evt)
		}
	}
}
