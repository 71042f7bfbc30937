package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"plate/api/internal/events"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Subscribe opens an event subscription for the caller: their own
// notifications, team-wide plate and platter changes, and the detailed
// changes of each listed plate.
func (s *Service) Subscribe(ctx context.Context, session Session, plateIDs []string) (events.Subscription, error) {
	channels := []string{events.UserChannel(session.UserID), events.TeamChannel(session.TeamID)}
	for _, id := range plateIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := s.plateInTeam(ctx, session, id); err != nil {
			return nil, err
		}
		channels = append(channels, events.PlateChannel(id))
	}
	return s.bus.Subscribe(ctx, channels...)
}

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// handleStream upgrades to a websocket and forwards every event on the
// caller's channels as one JSON text frame. Plates are chosen with repeated
// plateId query parameters.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, session Session) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.service.Subscribe(ctx, session, r.URL.Query()["plateId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		requestLog(r).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := s.service.metrics.StreamOpened()
	defer closed()
	requestLog(r).WithField("user_id", session.UserID).Info("stream opened")

	// Clients never send data; reading keeps pong handling alive and
	// notices the close.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
