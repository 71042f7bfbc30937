package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"plate/api/internal/model"
	"plate/api/internal/position"
)

// PlateView is the local copy of one plate with its headers and cards.
// Local moves renumber it with the position package before the server has
// answered; push events overwrite it with the authoritative state.
type PlateView struct {
	mu    sync.RWMutex
	plate *model.Plate
}

func NewPlateView(plate *model.Plate) *PlateView {
	if plate.Headers == nil {
		plate.Headers = []*model.Header{}
	}
	slices.SortStableFunc(plate.Headers, byPos[*model.Header])
	for _, h := range plate.Headers {
		slices.SortStableFunc(h.Items, byPos[*model.PlateItem])
	}
	return &PlateView{plate: plate}
}

func byPos[T position.Positioned](a, b T) int { return a.Pos() - b.Pos() }

func (v *PlateView) ID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.plate.ID
}

// Snapshot returns a deep copy safe to read without holding the view.
func (v *PlateView) Snapshot() model.Plate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := *v.plate
	out.Headers = make([]*model.Header, len(v.plate.Headers))
	for i, h := range v.plate.Headers {
		header := *h
		header.Items = make([]*model.PlateItem, len(h.Items))
		for j, item := range h.Items {
			copied := *item
			header.Items[j] = &copied
		}
		out.Headers[i] = &header
	}
	return out
}

func (v *PlateView) Item(itemID string) (model.PlateItem, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	header, idx, ok := v.plate.FindItem(itemID)
	if !ok {
		return model.PlateItem{}, false
	}
	return *header.Items[idx], true
}

// MoveItem relocates a card to index within headerID. Moving within the same
// header shifts its neighbours; moving across headers renumbers both.
func (v *PlateView) MoveItem(itemID, headerID string, index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	src, srcIndex, ok := v.plate.FindItem(itemID)
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, ErrNotLoaded)
	}
	dst := v.plate.HeaderByID(headerID)
	if dst == nil {
		return fmt.Errorf("header %s: %w", headerID, ErrNotLoaded)
	}
	if src == dst {
		return position.MoveWithinList(src.Items, srcIndex, index)
	}
	from, to, err := position.MoveAcrossLists(src.Items, dst.Items, srcIndex, index, headerID)
	if err != nil {
		return err
	}
	src.Items, dst.Items = from, to
	return nil
}

// MoveHeader relocates a column within the plate.
func (v *PlateView) MoveHeader(headerID string, index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := position.IndexOf(v.plate.Headers, func(h *model.Header) bool { return h.ID == headerID })
	if idx < 0 {
		return fmt.Errorf("header %s: %w", headerID, ErrNotLoaded)
	}
	return position.MoveWithinList(v.plate.Headers, idx, index)
}

// InsertItem places a card into its header at its own position, or at the
// end when the position is past it.
func (v *PlateView) InsertItem(item model.PlateItem) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.insertLocked(item)
}

func (v *PlateView) insertLocked(item model.PlateItem) error {
	header := v.plate.HeaderByID(item.HeaderID)
	if header == nil {
		return fmt.Errorf("header %s: %w", item.HeaderID, ErrNotLoaded)
	}
	index := item.Position
	if index < 0 || index > len(header.Items) {
		index = len(header.Items)
	}
	items, err := position.Insert(header.Items, &item, index)
	if err != nil {
		return err
	}
	header.Items = items
	return nil
}

// RemoveItem drops a card and closes the gap it leaves.
func (v *PlateView) RemoveItem(itemID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	header, idx, ok := v.plate.FindItem(itemID)
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, ErrNotLoaded)
	}
	items, _, err := position.Remove(header.Items, idx)
	if err != nil {
		return err
	}
	header.Items = items
	return nil
}

// ApplyEvent patches the view from a push event. Positions carried by the
// event win over local ones; neighbours are corrected by their own events.
func (v *PlateView) ApplyEvent(evt model.Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch evt.Entity {
	case model.EntityPlate:
		return v.applyPlateLocked(evt)
	case model.EntityHeader:
		return v.applyHeaderLocked(evt)
	case model.EntityPlateItem:
		return v.applyItemLocked(evt)
	}
	return nil
}

func (v *PlateView) applyPlateLocked(evt model.Event) error {
	if evt.ID != v.plate.ID || evt.Change != model.ChangeUpdate {
		return nil
	}
	var plate model.Plate
	if err := json.Unmarshal(evt.Data, &plate); err != nil {
		return fmt.Errorf("decode plate event: %w", err)
	}
	v.plate.Name = plate.Name
	v.plate.Color = plate.Color
	v.plate.Archived = plate.Archived
	v.plate.PlatterID = plate.PlatterID
	v.plate.ListPos = plate.ListPos
	v.plate.UpdatedAt = plate.UpdatedAt
	return nil
}

func (v *PlateView) applyHeaderLocked(evt model.Event) error {
	idx := position.IndexOf(v.plate.Headers, func(h *model.Header) bool { return h.ID == evt.ID })
	if evt.Change == model.ChangeRemove {
		if idx >= 0 {
			v.plate.Headers = slices.Delete(v.plate.Headers, idx, idx+1)
		}
		return nil
	}

	var header model.Header
	if err := json.Unmarshal(evt.Data, &header); err != nil {
		return fmt.Errorf("decode header event: %w", err)
	}
	if idx >= 0 {
		existing := v.plate.Headers[idx]
		existing.Name = header.Name
		existing.Color = header.Color
		existing.Position = header.Position
	} else {
		if header.Items == nil {
			header.Items = []*model.PlateItem{}
		}
		v.plate.Headers = append(v.plate.Headers, &header)
	}
	slices.SortStableFunc(v.plate.Headers, byPos[*model.Header])
	return nil
}

func (v *PlateView) applyItemLocked(evt model.Event) error {
	if header, idx, ok := v.plate.FindItem(evt.ID); ok {
		header.Items = slices.Delete(header.Items, idx, idx+1)
	}
	if evt.Change == model.ChangeRemove {
		return nil
	}

	var item model.PlateItem
	if err := json.Unmarshal(evt.Data, &item); err != nil {
		return fmt.Errorf("decode item event: %w", err)
	}
	if item.Archived || item.PlateID != v.plate.ID {
		return nil
	}
	header := v.plate.HeaderByID(item.HeaderID)
	if header == nil {
		return nil
	}
	header.Items = append(header.Items, &item)
	slices.SortStableFunc(header.Items, byPos[*model.PlateItem])
	return nil
}
