package activity

import (
	"context"
	"sync"

	"plate/api/internal/model"
)

// MemoryFeed is an in-process Feed for tests and single-node development.
type MemoryFeed struct {
	mu      sync.Mutex
	entries []model.Activity
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{}
}

func (f *MemoryFeed) Record(_ context.Context, entry model.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *MemoryFeed) List(_ context.Context, filter Filter) ([]model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Activity, 0)
	for i := len(f.entries) - 1; i >= 0 && len(out) < filter.limit(); i-- {
		e := f.entries[i]
		if e.TeamID != filter.TeamID {
			continue
		}
		if filter.PlateID != "" && e.PlateID != filter.PlateID {
			continue
		}
		if filter.PlateItemID != "" && e.PlateItemID != filter.PlateItemID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
