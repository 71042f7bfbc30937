package model

import (
	"encoding/json"
	"time"
)

// Change kinds carried by push events.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeRemove = "remove"
)

// Entity names carried by push events.
const (
	EntityPlatter      = "platter"
	EntityPlate        = "plate"
	EntityHeader       = "header"
	EntityPlateItem    = "plateItem"
	EntityComment      = "comment"
	EntityNotification = "notification"
)

// Event is a server push describing one change to one entity. Data holds
// the JSON of the entity after the change (or just its id for removals).
type Event struct {
	Entity  string          `json:"entity"`
	Change  string          `json:"change"`
	ID      string          `json:"id"`
	PlateID string          `json:"plateId,omitempty"`
	ActorID string          `json:"actorId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent marshals v into an Event. A nil v produces an event without data.
func NewEvent(entity, change, id string, v any) (Event, error) {
	evt := Event{Entity: entity, Change: change, ID: id, At: time.Now().UTC()}
	if v == nil {
		return evt, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	evt.Data = raw
	return evt, nil
}
