package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"plate/api/internal/model"
)

func TestStreamAppliesPushedEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	queries := make(chan url.Values, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications/stream" {
			http.NotFound(w, r)
			return
		}
		queries <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, item := range []model.PlateItem{
			{ID: "d1", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 0},
			{ID: "t1", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 1},
			{ID: "t2", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 2},
			{ID: "t3", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 3},
		} {
			evt, _ := model.NewEvent(model.EntityPlateItem, model.ChangeUpdate, item.ID, item)
			evt.PlateID = "plt-1"
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})
	c.SetSession(Session{AccessToken: "access-1"})
	view := NewPlateView(samplePlate())
	c.track(view)

	seen := make(chan model.Event, 8)
	stream := c.Stream("plt-1")
	stream.OnEvent = func(evt model.Event) { seen <- evt }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	q := <-queries
	if q.Get("access_token") != "access-1" || q.Get("plateId") != "plt-1" {
		t.Fatalf("unexpected stream query %v", q)
	}
	for i := 0; i < 4; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	snapshot := view.Snapshot()
	assertColumn(t, snapshot, "hdr-todo", "d1", "t1", "t2", "t3")
	if len(snapshot.HeaderByID("hdr-done").Items) != 0 {
		t.Fatalf("d1 should have left Done")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop after cancel")
	}
}

func TestStreamStopsWhenUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "error": "Unauthorized"})
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})
	c.SetSession(Session{AccessToken: "stale"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Stream().Run(ctx)

	if !errors.Is(err, ErrStreamUnauthorized) {
		t.Fatalf("expected ErrStreamUnauthorized, got %v", err)
	}
}

func TestStreamBackoffResetsAfterConnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) != 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "UNAVAILABLE", "error": "down"})
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL})
	c.SetSession(Session{AccessToken: "access-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var waits []time.Duration
	stream := c.Stream()
	stream.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 4 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	if err := stream.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("expected waits %v, got %v", want, waits)
		}
	}
}
