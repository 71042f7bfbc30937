package client

import (
	"errors"
	"testing"

	"plate/api/internal/model"
	"plate/api/internal/position"
)

func samplePlate() *model.Plate {
	item := func(id, header string, pos int) *model.PlateItem {
		return &model.PlateItem{ID: id, PlateID: "plt-1", HeaderID: header, Title: id, Position: pos}
	}
	return &model.Plate{
		ID:   "plt-1",
		Name: "Launch",
		Headers: []*model.Header{
			{ID: "hdr-done", PlateID: "plt-1", Name: "Done", Position: 1, Items: []*model.PlateItem{item("d1", "hdr-done", 0)}},
			{ID: "hdr-todo", PlateID: "plt-1", Name: "To Do", Position: 0, Items: []*model.PlateItem{
				item("t2", "hdr-todo", 1), item("t1", "hdr-todo", 0), item("t3", "hdr-todo", 2),
			}},
		},
	}
}

func idsOf(h *model.Header) []string {
	ids := make([]string, len(h.Items))
	for i, item := range h.Items {
		ids[i] = item.ID
	}
	return ids
}

func assertColumn(t *testing.T, plate model.Plate, headerID string, want ...string) {
	t.Helper()
	header := plate.HeaderByID(headerID)
	if header == nil {
		t.Fatalf("header %s missing", headerID)
	}
	got := idsOf(header)
	if len(got) != len(want) {
		t.Fatalf("%s: expected %v, got %v", headerID, want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: expected %v, got %v", headerID, want, got)
		}
		if header.Items[i].Position != i {
			t.Fatalf("%s: item %s has pos %d at index %d", headerID, got[i], header.Items[i].Position, i)
		}
		if header.Items[i].HeaderID != headerID {
			t.Fatalf("%s: item %s points at %s", headerID, got[i], header.Items[i].HeaderID)
		}
	}
}

func TestNewPlateViewSortsByPosition(t *testing.T) {
	snapshot := NewPlateView(samplePlate()).Snapshot()

	if snapshot.Headers[0].ID != "hdr-todo" {
		t.Fatalf("expected To Do first, got %s", snapshot.Headers[0].ID)
	}
	assertColumn(t, snapshot, "hdr-todo", "t1", "t2", "t3")
}

func TestMoveItemWithinHeader(t *testing.T) {
	view := NewPlateView(samplePlate())

	if err := view.MoveItem("t3", "hdr-todo", 0); err != nil {
		t.Fatalf("move: %v", err)
	}

	assertColumn(t, view.Snapshot(), "hdr-todo", "t3", "t1", "t2")
}

func TestMoveItemAcrossHeaders(t *testing.T) {
	view := NewPlateView(samplePlate())

	if err := view.MoveItem("t1", "hdr-done", 1); err != nil {
		t.Fatalf("move: %v", err)
	}

	snapshot := view.Snapshot()
	assertColumn(t, snapshot, "hdr-todo", "t2", "t3")
	assertColumn(t, snapshot, "hdr-done", "d1", "t1")
}

func TestMoveItemInvalidIndexLeavesViewUntouched(t *testing.T) {
	view := NewPlateView(samplePlate())

	err := view.MoveItem("t1", "hdr-done", 5)
	if !errors.Is(err, position.ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}

	snapshot := view.Snapshot()
	assertColumn(t, snapshot, "hdr-todo", "t1", "t2", "t3")
	assertColumn(t, snapshot, "hdr-done", "d1")
}

func TestMoveItemUnknownIDs(t *testing.T) {
	view := NewPlateView(samplePlate())

	if err := view.MoveItem("nope", "hdr-done", 0); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded for item, got %v", err)
	}
	if err := view.MoveItem("t1", "hdr-nope", 0); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded for header, got %v", err)
	}
}

func TestMoveHeader(t *testing.T) {
	view := NewPlateView(samplePlate())

	if err := view.MoveHeader("hdr-done", 0); err != nil {
		t.Fatalf("move header: %v", err)
	}

	snapshot := view.Snapshot()
	if snapshot.Headers[0].ID != "hdr-done" || snapshot.Headers[0].Position != 0 || snapshot.Headers[1].Position != 1 {
		t.Fatalf("unexpected header order %+v %+v", snapshot.Headers[0], snapshot.Headers[1])
	}
}

func TestRemoveAndInsertItem(t *testing.T) {
	view := NewPlateView(samplePlate())

	if err := view.RemoveItem("t2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertColumn(t, view.Snapshot(), "hdr-todo", "t1", "t3")

	if err := view.InsertItem(model.PlateItem{ID: "t4", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 99}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	assertColumn(t, view.Snapshot(), "hdr-todo", "t1", "t3", "t4")
}

func itemEvent(t *testing.T, change string, item model.PlateItem) model.Event {
	t.Helper()
	evt, err := model.NewEvent(model.EntityPlateItem, change, item.ID, item)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	evt.PlateID = item.PlateID
	return evt
}

func TestApplyEventConvergesToServerOrder(t *testing.T) {
	view := NewPlateView(samplePlate())

	// Server moved t3 to the top of To Do: every renumbered card is pushed.
	for _, item := range []model.PlateItem{
		{ID: "t3", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 0},
		{ID: "t1", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 1},
		{ID: "t2", PlateID: "plt-1", HeaderID: "hdr-todo", Position: 2},
	} {
		if err := view.ApplyEvent(itemEvent(t, model.ChangeUpdate, item)); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	assertColumn(t, view.Snapshot(), "hdr-todo", "t3", "t1", "t2")
}

func TestApplyEventItemLeavingPlate(t *testing.T) {
	view := NewPlateView(samplePlate())

	evt := model.Event{Entity: model.EntityPlateItem, Change: model.ChangeRemove, ID: "d1", PlateID: "plt-1"}
	if err := view.ApplyEvent(evt); err != nil {
		t.Fatalf("apply: %v", err)
	}
	archived := itemEvent(t, model.ChangeUpdate, model.PlateItem{ID: "t1", PlateID: "plt-1", HeaderID: "hdr-todo", Archived: true})
	if err := view.ApplyEvent(archived); err != nil {
		t.Fatalf("apply archived: %v", err)
	}

	snapshot := view.Snapshot()
	if len(snapshot.HeaderByID("hdr-done").Items) != 0 {
		t.Fatalf("expected d1 removed")
	}
	if _, ok := view.Item("t1"); ok {
		t.Fatalf("archived card must leave the view")
	}
}

func TestApplyEventHeaderLifecycle(t *testing.T) {
	view := NewPlateView(samplePlate())

	inserted, _ := model.NewEvent(model.EntityHeader, model.ChangeInsert, "hdr-review", model.Header{ID: "hdr-review", PlateID: "plt-1", Name: "Review", Position: 2})
	if err := view.ApplyEvent(inserted); err != nil {
		t.Fatalf("apply insert: %v", err)
	}
	renamed, _ := model.NewEvent(model.EntityHeader, model.ChangeUpdate, "hdr-todo", model.Header{ID: "hdr-todo", PlateID: "plt-1", Name: "Backlog", Position: 0})
	if err := view.ApplyEvent(renamed); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if err := view.ApplyEvent(model.Event{Entity: model.EntityHeader, Change: model.ChangeRemove, ID: "hdr-done"}); err != nil {
		t.Fatalf("apply remove: %v", err)
	}

	snapshot := view.Snapshot()
	if len(snapshot.Headers) != 2 || snapshot.Headers[1].ID != "hdr-review" {
		t.Fatalf("unexpected headers %+v", snapshot.Headers)
	}
	todo := snapshot.HeaderByID("hdr-todo")
	if todo.Name != "Backlog" || len(todo.Items) != 3 {
		t.Fatalf("header update must keep cards, got %+v", todo)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	view := NewPlateView(samplePlate())

	snapshot := view.Snapshot()
	snapshot.HeaderByID("hdr-todo").Items[0].Title = "changed"

	if item, _ := view.Item("t1"); item.Title != "t1" {
		t.Fatalf("snapshot must not alias the view")
	}
}
