// Package mirror keeps an in-memory copy of a server collection. It is the
// client-side cache behind every SDK view: a full refresh replaces it, push
// events patch it, local optimistic edits mutate it directly.
package mirror

import (
	"context"
	"sync"

	"plate/api/internal/model"
)

// Event is a typed remote change applied to a mirror.
type Event[T any] struct {
	Change string
	ID     string
	Value  T
}

// Mirror is a mutex-guarded ordered collection keyed by an id function.
type Mirror[T any] struct {
	mu    sync.RWMutex
	items []T
	keyOf func(T) string
}

func New[T any](keyOf func(T) string) *Mirror[T] {
	return &Mirror[T]{keyOf: keyOf}
}

// Refresh fetches the full collection and replaces the mirror's contents.
// On error the previous contents are kept. Local edits made while fetch is
// running are overwritten.
func (m *Mirror[T]) Refresh(ctx context.Context, fetch func(context.Context) ([]T, error)) error {
	items, err := fetch(ctx)
	if err != nil {
		return err
	}
	m.Replace(items)
	return nil
}

// Replace clears the mirror and repopulates it from items.
func (m *Mirror[T]) Replace(items []T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = m.items[:0]
	m.items = append(m.items, items...)
}

// ApplyRemoteEvent patches the mirror. Inserts and updates upsert by id;
// removals of unknown ids are ignored.
func (m *Mirror[T]) ApplyRemoteEvent(evt Event[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := evt.ID
	if id == "" && evt.Change != model.ChangeRemove {
		id = m.keyOf(evt.Value)
	}
	idx := m.indexLocked(id)

	switch evt.Change {
	case model.ChangeInsert, model.ChangeUpdate:
		if idx >= 0 {
			m.items[idx] = evt.Value
			return
		}
		m.items = append(m.items, evt.Value)
	case model.ChangeRemove:
		if idx < 0 {
			return
		}
		m.items = append(m.items[:idx], m.items[idx+1:]...)
	}
}

// Items returns a copy of the mirrored slice.
func (m *Mirror[T]) Items() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

func (m *Mirror[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx := m.indexLocked(id); idx >= 0 {
		return m.items[idx], true
	}
	var zero T
	return zero, false
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Mutate runs fn on the element with the given id under the write lock and
// stores the result. It reports whether the id was found.
func (m *Mirror[T]) Mutate(id string, fn func(T) T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return false
	}
	m.items[idx] = fn(m.items[idx])
	return true
}

func (m *Mirror[T]) indexLocked(id string) int {
	for i, item := range m.items {
		if m.keyOf(item) == id {
			return i
		}
	}
	return -1
}
