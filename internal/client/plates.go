package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"plate/api/internal/mirror"
	"plate/api/internal/model"
	"plate/api/internal/position"
)

// applyTo decodes a push event into T and patches m with it.
func applyTo[T any](m *mirror.Mirror[T], evt model.Event) error {
	var value T
	if evt.Change != model.ChangeRemove && len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &value); err != nil {
			return fmt.Errorf("decode %s event: %w", evt.Entity, err)
		}
	}
	m.ApplyRemoteEvent(mirror.Event[T]{Change: evt.Change, ID: evt.ID, Value: value})
	return nil
}

// Platters

type Platters struct {
	c      *Client
	mirror *mirror.Mirror[model.Platter]
}

func newPlatters(c *Client) *Platters {
	return &Platters{c: c, mirror: mirror.New(func(p model.Platter) string { return p.ID })}
}

// Refresh replaces the mirror with the team's platters.
func (p *Platters) Refresh(ctx context.Context) error {
	return p.mirror.Refresh(ctx, func(ctx context.Context) ([]model.Platter, error) {
		var out struct {
			Platters []model.Platter `json:"platters"`
		}
		err := p.c.do(ctx, http.MethodGet, "/api/platters", nil, &out)
		return out.Platters, err
	})
}

func (p *Platters) Items() []model.Platter { return p.mirror.Items() }

func (p *Platters) Get(id string) (model.Platter, bool) { return p.mirror.Get(id) }

func (p *Platters) Create(ctx context.Context, name, color string) (model.Platter, error) {
	var out struct {
		Platter model.Platter `json:"platter"`
	}
	if err := p.c.do(ctx, http.MethodPost, "/api/platters", map[string]string{"name": name, "color": color}, &out); err != nil {
		return model.Platter{}, err
	}
	p.mirror.ApplyRemoteEvent(mirror.Event[model.Platter]{Change: model.ChangeInsert, Value: out.Platter})
	return out.Platter, nil
}

// Rename changes the name locally and sends it in the background.
func (p *Platters) Rename(id, name string) *Pending {
	if !p.mirror.Mutate(id, func(pl model.Platter) model.Platter { pl.Name = name; return pl }) {
		err := fmt.Errorf("platter %s: %w", id, ErrNotLoaded)
		p.c.errors.Handle("rename platter", err)
		return resolved(err)
	}
	return p.c.background("rename platter", func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodPut, "/api/platters/"+id, map[string]string{"name": name}, nil)
	})
}

func (p *Platters) Delete(id string) *Pending {
	p.mirror.ApplyRemoteEvent(mirror.Event[model.Platter]{Change: model.ChangeRemove, ID: id})
	return p.c.background("delete platter", func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodDelete, "/api/platters/"+id, nil, nil)
	})
}

// Plates

type Plates struct {
	c      *Client
	mirror *mirror.Mirror[model.Plate]
}

func newPlates(c *Client) *Plates {
	return &Plates{c: c, mirror: mirror.New(func(p model.Plate) string { return p.ID })}
}

// Refresh replaces the mirror with the plates of platterID, or with every
// plate of the team when platterID is empty.
func (p *Plates) Refresh(ctx context.Context, platterID string) error {
	return p.mirror.Refresh(ctx, func(ctx context.Context) ([]model.Plate, error) {
		var out struct {
			Plates []model.Plate `json:"plates"`
		}
		err := p.c.do(ctx, http.MethodGet, "/api/plates"+query(map[string]string{"platterId": platterID}), nil, &out)
		return out.Plates, err
	})
}

// Items returns the mirrored plates ordered by platter and position.
func (p *Plates) Items() []model.Plate {
	plates := p.mirror.Items()
	slices.SortStableFunc(plates, func(a, b model.Plate) int {
		if a.PlatterID != b.PlatterID {
			if a.PlatterID < b.PlatterID {
				return -1
			}
			return 1
		}
		return a.ListPos - b.ListPos
	})
	return plates
}

func (p *Plates) Get(id string) (model.Plate, bool) { return p.mirror.Get(id) }

// Load fetches one plate with its headers and cards. The returned view is
// kept current by the client's stream until Forget is called.
func (p *Plates) Load(ctx context.Context, plateID string) (*PlateView, error) {
	var out struct {
		Plate model.Plate `json:"plate"`
	}
	if err := p.c.do(ctx, http.MethodGet, "/api/plates/"+plateID, nil, &out); err != nil {
		return nil, err
	}
	view := NewPlateView(&out.Plate)
	p.c.track(view)
	return view, nil
}

func (p *Plates) Create(ctx context.Context, platterID, name string, headers []string) (model.Plate, error) {
	var out struct {
		Plate model.Plate `json:"plate"`
	}
	body := map[string]any{"platterId": platterID, "name": name}
	if len(headers) > 0 {
		body["headers"] = headers
	}
	if err := p.c.do(ctx, http.MethodPost, "/api/plates", body, &out); err != nil {
		return model.Plate{}, err
	}
	p.mirror.ApplyRemoteEvent(mirror.Event[model.Plate]{Change: model.ChangeInsert, Value: out.Plate})
	return out.Plate, nil
}

func (p *Plates) Rename(id, name string) *Pending {
	if !p.mirror.Mutate(id, func(pl model.Plate) model.Plate { pl.Name = name; return pl }) {
		err := fmt.Errorf("plate %s: %w", id, ErrNotLoaded)
		p.c.errors.Handle("rename plate", err)
		return resolved(err)
	}
	return p.c.background("rename plate", func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodPut, "/api/plates/"+id, map[string]string{"name": name}, nil)
	})
}

// siblings returns copies of the live plates of platterID in position order.
func siblings(all []model.Plate, platterID string) []*model.Plate {
	var out []*model.Plate
	for _, pl := range all {
		if pl.PlatterID == platterID && !pl.Archived {
			copied := pl
			out = append(out, &copied)
		}
	}
	slices.SortStableFunc(out, byPos[*model.Plate])
	return out
}

// Move relocates a plate to index within platterID in the mirror, then
// sends the move. The result is only used to report failures.
func (p *Plates) Move(plateID, platterID string, index int) *Pending {
	const label = "move plate"
	if err := p.moveLocal(plateID, platterID, index); err != nil {
		p.c.errors.Handle(label, err)
		return resolved(err)
	}
	return p.c.background(label, func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodPut, "/api/plates/"+plateID+"/move", map[string]any{
			"platterId": platterID,
			"index":     index,
		}, nil)
	})
}

func (p *Plates) moveLocal(plateID, platterID string, index int) error {
	moving, ok := p.mirror.Get(plateID)
	if !ok {
		return fmt.Errorf("plate %s: %w", plateID, ErrNotLoaded)
	}
	all := p.mirror.Items()
	src := siblings(all, moving.PlatterID)
	srcIndex := position.IndexOf(src, func(pl *model.Plate) bool { return pl.ID == plateID })
	if srcIndex < 0 {
		return fmt.Errorf("plate %s is archived: %w", plateID, ErrNotLoaded)
	}

	var changed []*model.Plate
	if platterID == "" || platterID == moving.PlatterID {
		if err := position.MoveWithinList(src, srcIndex, index); err != nil {
			return err
		}
		changed = src
	} else {
		from, to, err := position.MoveAcrossLists(src, siblings(all, platterID), srcIndex, index, platterID)
		if err != nil {
			return err
		}
		changed = append(from, to...)
	}
	p.storePositions(changed)
	return nil
}

// Archive takes the plate out of its platter's order, or appends it at the
// end when restoring, then sends the change.
func (p *Plates) Archive(id string, archived bool) *Pending {
	const label = "archive plate"
	if err := p.archiveLocal(id, archived); err != nil {
		p.c.errors.Handle(label, err)
		return resolved(err)
	}
	return p.c.background(label, func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodPut, "/api/plates/"+id, map[string]bool{"archived": archived}, nil)
	})
}

func (p *Plates) archiveLocal(id string, archived bool) error {
	plate, ok := p.mirror.Get(id)
	if !ok || plate.Archived == archived {
		return nil
	}
	live := siblings(p.mirror.Items(), plate.PlatterID)
	if archived {
		if idx := position.IndexOf(live, func(pl *model.Plate) bool { return pl.ID == id }); idx >= 0 {
			var err error
			if live, _, err = position.Remove(live, idx); err != nil {
				return err
			}
		}
	} else {
		plate.Archived = false
		var err error
		if live, err = position.Insert(live, &plate, len(live)); err != nil {
			return err
		}
	}
	plate.Archived = archived
	p.mirror.Mutate(id, func(model.Plate) model.Plate { return plate })
	p.storePositions(live)
	return nil
}

// removeLocal drops the plate from the mirror and closes the gap it leaves.
func (p *Plates) removeLocal(id string) {
	plate, ok := p.mirror.Get(id)
	if !ok {
		return
	}
	live := siblings(p.mirror.Items(), plate.PlatterID)
	p.mirror.ApplyRemoteEvent(mirror.Event[model.Plate]{Change: model.ChangeRemove, ID: id})
	if idx := position.IndexOf(live, func(pl *model.Plate) bool { return pl.ID == id }); idx >= 0 {
		if rest, _, err := position.Remove(live, idx); err == nil {
			p.storePositions(rest)
		}
	}
}

func (p *Plates) storePositions(list []*model.Plate) {
	for _, pl := range list {
		updated := *pl
		p.mirror.Mutate(updated.ID, func(model.Plate) model.Plate { return updated })
	}
}

func (p *Plates) Delete(id string) *Pending {
	p.removeLocal(id)
	p.c.Forget(id)
	return p.c.background("delete plate", func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodDelete, "/api/plates/"+id, nil, nil)
	})
}

// Headers

func (p *Plates) CreateHeader(ctx context.Context, view *PlateView, name string) (model.Header, error) {
	var out struct {
		Header model.Header `json:"header"`
	}
	if err := p.c.do(ctx, http.MethodPost, "/api/plates/"+view.ID()+"/headers", map[string]string{"name": name}, &out); err != nil {
		return model.Header{}, err
	}
	evt, err := model.NewEvent(model.EntityHeader, model.ChangeInsert, out.Header.ID, out.Header)
	if err != nil {
		return model.Header{}, err
	}
	return out.Header, view.ApplyEvent(evt)
}

// MoveHeader reorders a column locally, then sends the move.
func (p *Plates) MoveHeader(view *PlateView, headerID string, index int) *Pending {
	const label = "move header"
	if err := view.MoveHeader(headerID, index); err != nil {
		p.c.errors.Handle(label, err)
		return resolved(err)
	}
	plateID := view.ID()
	return p.c.background(label, func(ctx context.Context) error {
		return p.c.do(ctx, http.MethodPut, "/api/plates/"+plateID+"/headers/"+headerID+"/move", map[string]int{"index": index}, nil)
	})
}

func (p *Plates) Summary(ctx context.Context, plateID string) (model.PlateSummary, error) {
	var out struct {
		Summary model.PlateSummary `json:"summary"`
	}
	err := p.c.do(ctx, http.MethodGet, "/api/plates/"+plateID+"/metrics", nil, &out)
	return out.Summary, err
}

func (p *Plates) Activity(ctx context.Context, plateID string, limit int) ([]model.Activity, error) {
	var out struct {
		Activity []model.Activity `json:"activity"`
	}
	err := p.c.do(ctx, http.MethodGet, "/api/plates/"+plateID+"/activity"+query(map[string]string{"limit": limitParam(limit)}), nil, &out)
	return out.Activity, err
}

// Export writes the plate rendered as format ("pdf" or "xlsx") to w.
func (p *Plates) Export(ctx context.Context, plateID, format string, w io.Writer) error {
	return p.c.download(ctx, "/api/plates/"+plateID+"/export"+query(map[string]string{"format": format}), w)
}

func limitParam(limit int) string {
	if limit <= 0 {
		return ""
	}
	return strconv.Itoa(limit)
}
