package eventbus

import (
	"time"

	"github.com/workboard/workboard/internal/types"
)

// EventType identifies a change notification. Values match the audit
// event types recorded in the store, plus board creation.
type EventType = types.EventType

// EventBoardCreated is published when a board is created. It has no audit
// row because it concerns no item.
const EventBoardCreated EventType = "board_created"

// Event is a committed change, published after the transaction that made
// it has committed.
type Event struct {
	Type       EventType `json:"type"`
	BoardID    int64     `json:"board_id"`
	ItemID     int64     `json:"item_id,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	At         time.Time `json:"at"`
}

// FromAudit converts a stored audit event into a notification.
func FromAudit(boardID int64, e *types.Event) *Event {
	return &Event{
		Type:       e.EventType,
		BoardID:    boardID,
		ItemID:     e.ItemID,
		Identifier: e.Identifier,
		Actor:      e.Actor,
		OldValue:   e.OldValue,
		NewValue:   e.NewValue,
		Comment:    e.Comment,
		At:         e.CreatedAt,
	}
}

// Result reports which handlers accepted or failed an event.
type Result struct {
	Delivered []string `json:"delivered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}
