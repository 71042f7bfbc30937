package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"plate/api/internal/events"
	"plate/api/internal/model"
)

func streamURL(server *httptest.Server, token string, plateIDs ...string) string {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/notifications/stream?access_token=" + token
	for _, id := range plateIDs {
		url += "&plateId=" + id
	}
	return url
}

func TestStreamForwardsTeamAndPlateEvents(t *testing.T) {
	svc := newTestService(teamPlateStore())
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(streamURL(server, tokenFor(t, svc, memberUser), "plt-1"), nil)
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	defer conn.Close()

	ctx := context.Background()
	plateEvt, _ := model.NewEvent(model.EntityPlateItem, model.ChangeUpdate, "itm-1", map[string]any{"pos": 2})
	plateEvt.PlateID = "plt-1"
	teamEvt, _ := model.NewEvent(model.EntityPlate, model.ChangeInsert, "plt-3", nil)
	foreignEvt, _ := model.NewEvent(model.EntityPlate, model.ChangeInsert, "plt-x", nil)

	if err := svc.Bus().Publish(ctx, events.TeamChannel("team-2"), foreignEvt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Bus().Publish(ctx, events.PlateChannel("plt-1"), plateEvt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Bus().Publish(ctx, events.TeamChannel("team-1"), teamEvt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []string
	for i := 0; i < 2; i++ {
		var evt model.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		got = append(got, evt.ID)
	}
	if got[0] != "itm-1" || got[1] != "plt-3" {
		t.Fatalf("unexpected event order %v", got)
	}
}

func TestStreamRejectsPlateOfAnotherTeam(t *testing.T) {
	svc := newTestService(teamPlateStore())
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(server, tokenFor(t, svc, memberUser), "plt-other"), nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %v", resp)
	}
}

func TestStreamRequiresToken(t *testing.T) {
	svc := newTestService(teamPlateStore())
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(server, ""), nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %v", resp)
	}
}
