// Package model holds the Plate domain types shared by the API server, its
// store and the Go client.
package model

import "time"

// Platter is an ordered collection of plates.
type Platter struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Archived  bool      `json:"archived"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Plates    []*Plate  `json:"plates,omitempty"`
}

// Plate is a board: ordered headers, each owning ordered items.
type Plate struct {
	ID        string    `json:"id"`
	PlatterID string    `json:"platterId"`
	TeamID    string    `json:"teamId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Archived  bool      `json:"archived"`
	ListPos   int       `json:"listPos"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Headers   []*Header `json:"headers,omitempty"`
}

func (p *Plate) Pos() int                   { return p.ListPos }
func (p *Plate) SetPos(pos int)             { p.ListPos = pos }
func (p *Plate) SetParent(platterID string) { p.PlatterID = platterID }

// Header is a column within a plate.
type Header struct {
	ID       string       `json:"id"`
	PlateID  string       `json:"plateId"`
	Name     string       `json:"name"`
	Color    string       `json:"color"`
	Position int          `json:"pos"`
	Items    []*PlateItem `json:"items,omitempty"`
}

func (h *Header) Pos() int                 { return h.Position }
func (h *Header) SetPos(pos int)           { h.Position = pos }
func (h *Header) SetParent(plateID string) { h.PlateID = plateID }

// PlateItem is a card. Position is contiguous within its header over
// non-archived items.
type PlateItem struct {
	ID          string     `json:"id"`
	PlateID     string     `json:"plateId"`
	HeaderID    string     `json:"headerId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Color       string     `json:"color"`
	Position    int        `json:"pos"`
	Archived    bool       `json:"archived"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (i *PlateItem) Pos() int                  { return i.Position }
func (i *PlateItem) SetPos(pos int)            { i.Position = pos }
func (i *PlateItem) SetParent(headerID string) { i.HeaderID = headerID }

// HeaderByID returns the header with the given id, or nil.
func (p *Plate) HeaderByID(id string) *Header {
	for _, h := range p.Headers {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// FindItem locates an item across all headers of the plate.
func (p *Plate) FindItem(itemID string) (*Header, int, bool) {
	for _, h := range p.Headers {
		for i, item := range h.Items {
			if item.ID == itemID {
				return h, i, true
			}
		}
	}
	return nil, -1, false
}
