package client

import (
	"context"
	"net/http"
	"testing"

	"plate/api/internal/model"
	"plate/api/internal/position"
)

func archiveServer(t *testing.T, updates chan<- string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/plates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"plates": []model.Plate{
			{ID: "plt-a", PlatterID: "ptr-1", ListPos: 0},
			{ID: "plt-b", PlatterID: "ptr-1", ListPos: 1},
			{ID: "plt-c", PlatterID: "ptr-1", ListPos: 2},
		}})
	})
	mux.HandleFunc("PUT /api/plates/{id}", func(w http.ResponseWriter, r *http.Request) {
		updates <- r.PathValue("id")
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("PUT /api/plates/{id}/move", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("DELETE /api/plates/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func livePlates(c *Client, platterID string) []*model.Plate {
	return siblings(c.Plates.Items(), platterID)
}

func assertLiveOrder(t *testing.T, c *Client, platterID string, ids ...string) {
	t.Helper()
	live := livePlates(c, platterID)
	if !position.Contiguous(live) {
		t.Fatalf("live plates of %s not contiguous: %+v", platterID, live)
	}
	if len(live) != len(ids) {
		t.Fatalf("expected %v, got %d plates", ids, len(live))
	}
	for i, id := range ids {
		if live[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, live[i].ID)
		}
	}
}

func TestArchivePlateClosesGap(t *testing.T) {
	updates := make(chan string, 2)
	c, recorder := newTestClient(t, archiveServer(t, updates))
	if err := c.Plates.Refresh(context.Background(), ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := c.Plates.Archive("plt-b", true).Wait(); err != nil {
		t.Fatalf("archive: %v", err)
	}
	assertLiveOrder(t, c, "ptr-1", "plt-a", "plt-c")

	if err := c.Plates.Move("plt-a", "ptr-1", 1).Wait(); err != nil {
		t.Fatalf("move: %v", err)
	}
	assertLiveOrder(t, c, "ptr-1", "plt-c", "plt-a")

	if err := c.Plates.Archive("plt-b", false).Wait(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	assertLiveOrder(t, c, "ptr-1", "plt-c", "plt-a", "plt-b")
	if got := <-updates; got != "plt-b" {
		t.Fatalf("unexpected archive request for %s", got)
	}
	if errs := recorder.all(); len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestDeletePlateClosesGap(t *testing.T) {
	c, _ := newTestClient(t, archiveServer(t, make(chan string, 1)))
	if err := c.Plates.Refresh(context.Background(), ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := c.Plates.Delete("plt-a").Wait(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	assertLiveOrder(t, c, "ptr-1", "plt-b", "plt-c")
	if _, ok := c.Plates.Get("plt-a"); ok {
		t.Fatal("deleted plate still mirrored")
	}
}
