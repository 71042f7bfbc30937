package client

import (
	"context"
	"net/http"

	"plate/api/internal/model"
)

type PlateItems struct {
	c *Client
}

type NewItem struct {
	HeaderID    string `json:"headerId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	AssigneeID  string `json:"assigneeId,omitempty"`
}

type itemEnvelope struct {
	PlateItem model.PlateItem `json:"plateItem"`
}

func (s *PlateItems) List(ctx context.Context, plateID string) ([]model.PlateItem, error) {
	var out struct {
		PlateItems []model.PlateItem `json:"plateItems"`
	}
	err := s.c.do(ctx, http.MethodGet, "/api/plateitems"+query(map[string]string{"plateId": plateID}), nil, &out)
	return out.PlateItems, err
}

func (s *PlateItems) Get(ctx context.Context, itemID string) (model.PlateItem, error) {
	var out itemEnvelope
	err := s.c.do(ctx, http.MethodGet, "/api/plateitems/"+itemID, nil, &out)
	return out.PlateItem, err
}

// Create adds a card at the end of its header and places the stored card
// into view.
func (s *PlateItems) Create(ctx context.Context, view *PlateView, item NewItem) (model.PlateItem, error) {
	body := struct {
		PlateID string `json:"plateId"`
		NewItem
	}{PlateID: view.ID(), NewItem: item}
	var out itemEnvelope
	if err := s.c.do(ctx, http.MethodPost, "/api/plateitems", body, &out); err != nil {
		return model.PlateItem{}, err
	}
	if _, ok := view.Item(out.PlateItem.ID); !ok {
		if err := view.InsertItem(out.PlateItem); err != nil {
			return out.PlateItem, err
		}
	}
	return out.PlateItem, nil
}

// Update sends a partial change; nil fields are left alone.
func (s *PlateItems) Update(ctx context.Context, itemID string, fields map[string]any) (model.PlateItem, error) {
	var out itemEnvelope
	err := s.c.do(ctx, http.MethodPut, "/api/plateitems/"+itemID, fields, &out)
	return out.PlateItem, err
}

// Move relocates a card inside view at once and sends the move to the
// server in the background. There is no reconciliation: a failed request
// is reported to the error handler and the local order stays as moved
// until the next refresh or push event corrects it.
func (s *PlateItems) Move(view *PlateView, itemID, headerID string, index int) *Pending {
	const label = "move plate item"
	if err := view.MoveItem(itemID, headerID, index); err != nil {
		s.c.errors.Handle(label, err)
		return resolved(err)
	}
	return s.c.background(label, func(ctx context.Context) error {
		return s.c.do(ctx, http.MethodPut, "/api/plateitems/"+itemID+"/move", map[string]any{
			"headerId": headerID,
			"index":    index,
		}, nil)
	})
}

// Archive hides a card from view and archives it on the server.
func (s *PlateItems) Archive(view *PlateView, itemID string) *Pending {
	const label = "archive plate item"
	if err := view.RemoveItem(itemID); err != nil {
		s.c.errors.Handle(label, err)
		return resolved(err)
	}
	return s.c.background(label, func(ctx context.Context) error {
		return s.c.do(ctx, http.MethodPut, "/api/plateitems/"+itemID, map[string]bool{"archived": true}, nil)
	})
}

func (s *PlateItems) Delete(view *PlateView, itemID string) *Pending {
	const label = "delete plate item"
	if err := view.RemoveItem(itemID); err != nil {
		s.c.errors.Handle(label, err)
		return resolved(err)
	}
	return s.c.background(label, func(ctx context.Context) error {
		return s.c.do(ctx, http.MethodDelete, "/api/plateitems/"+itemID, nil, nil)
	})
}

// Comments

func (s *PlateItems) Comments(ctx context.Context, itemID string) ([]model.Comment, error) {
	var out struct {
		Comments []model.Comment `json:"comments"`
	}
	err := s.c.do(ctx, http.MethodGet, "/api/plateitems/"+itemID+"/comments", nil, &out)
	return out.Comments, err
}

func (s *PlateItems) Comment(ctx context.Context, itemID, body string) (model.Comment, error) {
	var out struct {
		Comment model.Comment `json:"comment"`
	}
	err := s.c.do(ctx, http.MethodPost, "/api/plateitems/"+itemID+"/comments", map[string]string{"body": body}, &out)
	return out.Comment, err
}

// Metrics

func (s *PlateItems) Metrics(ctx context.Context, itemID string) ([]model.Metric, error) {
	var out struct {
		Metrics []model.Metric `json:"metrics"`
	}
	err := s.c.do(ctx, http.MethodGet, "/api/plateitems/"+itemID+"/metrics", nil, &out)
	return out.Metrics, err
}

func (s *PlateItems) AddMetric(ctx context.Context, itemID, name string, value float64, unit string) (model.Metric, error) {
	var out struct {
		Metric model.Metric `json:"metric"`
	}
	err := s.c.do(ctx, http.MethodPost, "/api/plateitems/"+itemID+"/metrics", map[string]any{
		"name":  name,
		"value": value,
		"unit":  unit,
	}, &out)
	return out.Metric, err
}

func (s *PlateItems) Activity(ctx context.Context, itemID string, limit int) ([]model.Activity, error) {
	var out struct {
		Activity []model.Activity `json:"activity"`
	}
	err := s.c.do(ctx, http.MethodGet, "/api/plateitems/"+itemID+"/activity"+query(map[string]string{"limit": limitParam(limit)}), nil, &out)
	return out.Activity, err
}
