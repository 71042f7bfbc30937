package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"plate/api/internal/model"
	"plate/api/internal/position"
)

type recordedError struct {
	label string
	err   error
}

type errorRecorder struct {
	mu     sync.Mutex
	errors []recordedError
}

func (r *errorRecorder) Handle(label string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, recordedError{label: label, err: err})
}

func (r *errorRecorder) all() []recordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedError(nil), r.errors...)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *errorRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	recorder := &errorRecorder{}
	c := New(Options{BaseURL: server.URL, Errors: recorder})
	c.SetSession(Session{AccessToken: "access-1", RefreshToken: "refresh-1"})
	return c, recorder
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestSignInInstallsSession(t *testing.T) {
	var seen Session
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "milo@example.com" || body["password"] != "correct-horse" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "INVALID_CREDENTIALS", "error": "Invalid email or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  "access-2",
			"refreshToken": "refresh-2",
			"expiresAt":    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
			"user":         model.UserProfile{ID: "usr-1", Email: "milo@example.com"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	c := New(Options{BaseURL: server.URL, OnSession: func(s Session) { seen = s }})

	session, err := c.SignIn(context.Background(), "milo@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if session.AccessToken != "access-2" || c.Session().RefreshToken != "refresh-2" {
		t.Fatalf("session not installed: %+v", c.Session())
	}
	if seen.User.ID != "usr-1" || seen.ExpiresAt.Year() != 2030 {
		t.Fatalf("OnSession not called with the new session: %+v", seen)
	}
}

func TestAPIErrorIsDecoded(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "error": "Resource not found"})
	}))

	_, err := c.Items.Get(context.Background(), "itm-missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "NOT_FOUND" || apiErr.Message != "Resource not found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound should match")
	}
}

func TestExpiredAccessTokenIsRefreshedOnce(t *testing.T) {
	var mu sync.Mutex
	meCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		meCalls++
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer access-2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED", "error": "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": model.UserProfile{ID: "usr-1"}})
	})
	mux.HandleFunc("POST /api/users/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refreshToken"] != "refresh-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "UNAUTHORIZED"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "access-2", "refreshToken": "refresh-2", "expiresAt": 0})
	})
	c, _ := newTestClient(t, mux)

	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if user.ID != "usr-1" || meCalls != 2 {
		t.Fatalf("expected one retry after refresh, user=%+v calls=%d", user, meCalls)
	}
	if c.Session().RefreshToken != "refresh-2" {
		t.Fatalf("rotated refresh token not stored")
	}
}

func loadedView(t *testing.T, c *Client) *PlateView {
	t.Helper()
	view := NewPlateView(samplePlate())
	c.track(view)
	return view
}

func TestMoveAppliesLocallyBeforeServerAnswers(t *testing.T) {
	release := make(chan struct{})
	received := make(chan map[string]any, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/plateitems/{id}/move", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = r.PathValue("id")
		received <- body
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"changed": []any{}})
	})
	c, recorder := newTestClient(t, mux)
	view := loadedView(t, c)

	pending := c.Items.Move(view, "t1", "hdr-done", 0)

	snapshot := view.Snapshot()
	assertColumn(t, snapshot, "hdr-done", "t1", "d1")
	assertColumn(t, snapshot, "hdr-todo", "t2", "t3")

	body := <-received
	if body["id"] != "t1" || body["headerId"] != "hdr-done" || body["index"] != float64(0) {
		t.Fatalf("unexpected request %v", body)
	}
	select {
	case <-pending.Done():
		t.Fatalf("pending resolved before the server answered")
	default:
	}
	close(release)
	if err := pending.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(recorder.all()) != 0 {
		t.Fatalf("no errors expected, got %v", recorder.all())
	}
}

func TestMoveFailureIsReportedWithLabel(t *testing.T) {
	c, recorder := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"code": "FORBIDDEN", "error": "Insufficient permissions"})
	}))
	view := loadedView(t, c)

	err := c.Items.Move(view, "t3", "hdr-todo", 0).Wait()

	if StatusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	errs := recorder.all()
	if len(errs) != 1 || errs[0].label != "move plate item" {
		t.Fatalf("expected one labelled error, got %v", errs)
	}
	// No reconciliation: the optimistic order stays until a refresh.
	assertColumn(t, view.Snapshot(), "hdr-todo", "t3", "t1", "t2")
}

func TestMoveWithInvalidIndexSendsNothing(t *testing.T) {
	called := false
	c, recorder := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	view := loadedView(t, c)

	err := c.Items.Move(view, "t1", "hdr-done", 7).Wait()

	if !errors.Is(err, position.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if called {
		t.Fatalf("no request expected for a rejected local move")
	}
	if len(recorder.all()) != 1 {
		t.Fatalf("expected the handler to see the failure")
	}
}

func platesServer(t *testing.T, moved chan<- map[string]any) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/plates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"plates": []model.Plate{
			{ID: "plt-b", PlatterID: "ptr-1", ListPos: 1},
			{ID: "plt-a", PlatterID: "ptr-1", ListPos: 0},
			{ID: "plt-c", PlatterID: "ptr-1", ListPos: 2},
			{ID: "plt-x", PlatterID: "ptr-2", ListPos: 0},
		}})
	})
	mux.HandleFunc("PUT /api/plates/{id}/move", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		moved <- body
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	return mux
}

func TestPlatesMoveRenumbersMirror(t *testing.T) {
	moved := make(chan map[string]any, 1)
	c, _ := newTestClient(t, platesServer(t, moved))
	if err := c.Plates.Refresh(context.Background(), ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := c.Plates.Move("plt-a", "ptr-2", 0).Wait(); err != nil {
		t.Fatalf("move: %v", err)
	}

	want := map[string]struct {
		platter string
		pos     int
	}{
		"plt-b": {"ptr-1", 0},
		"plt-c": {"ptr-1", 1},
		"plt-a": {"ptr-2", 0},
		"plt-x": {"ptr-2", 1},
	}
	for id, expected := range want {
		got, ok := c.Plates.Get(id)
		if !ok || got.PlatterID != expected.platter || got.ListPos != expected.pos {
			t.Fatalf("%s: expected %+v, got %+v", id, expected, got)
		}
	}
	if body := <-moved; body["platterId"] != "ptr-2" || body["index"] != float64(0) {
		t.Fatalf("unexpected move body %v", body)
	}
}

func TestApplyRoutesEvents(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	view := loadedView(t, c)
	c.Notifications.mirror.Replace([]model.Notification{{ID: "ntf-1", Message: "hello"}})

	platter, _ := model.NewEvent(model.EntityPlatter, model.ChangeInsert, "ptr-9", model.Platter{ID: "ptr-9", Name: "Ops"})
	read, _ := model.NewEvent(model.EntityNotification, model.ChangeUpdate, "ntf-1", map[string]any{"id": "ntf-1", "read": true})
	item := itemEvent(t, model.ChangeInsert, model.PlateItem{ID: "t9", PlateID: "plt-1", HeaderID: "hdr-done", Position: 0})
	shifted := itemEvent(t, model.ChangeUpdate, model.PlateItem{ID: "d1", PlateID: "plt-1", HeaderID: "hdr-done", Position: 1})

	for _, evt := range []model.Event{platter, read, item, shifted} {
		if err := c.Apply(evt); err != nil {
			t.Fatalf("apply %s: %v", evt.Entity, err)
		}
	}

	if _, ok := c.Platters.Get("ptr-9"); !ok {
		t.Fatalf("platter event not applied")
	}
	if n := c.Notifications.Items(); len(n) != 1 || !n[0].Read || n[0].Message != "hello" {
		t.Fatalf("read patch must keep the notification, got %+v", n)
	}
	assertColumn(t, view.Snapshot(), "hdr-done", "t9", "d1")

	c.Forget("plt-1")
	other := itemEvent(t, model.ChangeRemove, model.PlateItem{ID: "t9", PlateID: "plt-1"})
	if err := c.Apply(other); err != nil {
		t.Fatalf("apply after forget: %v", err)
	}
	if _, ok := view.Item("t9"); !ok {
		t.Fatalf("forgotten view must not receive events")
	}
}
