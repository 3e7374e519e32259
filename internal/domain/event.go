package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind tags a feed event as an insert or an update.
type EventKind int

const (
	// Insert announces a news item the consumer has not seen.
	Insert EventKind = iota + 1
	// Update carries changed fields for an existing item.
	Update
)

// Wire names used by the backend.
const (
	EnvelopeType    = "news_update"
	EventNameInsert = "new_news"
	EventNameUpdate = "update_news"
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case Insert:
		return EventNameInsert
	case Update:
		return EventNameUpdate
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ParseEventKind maps a wire name to an EventKind.
func ParseEventKind(name string) (EventKind, bool) {
	switch name {
	case EventNameInsert:
		return Insert, true
	case EventNameUpdate:
		return Update, true
	default:
		return 0, false
	}
}

// Event is a single classified realtime message.
type Event struct {
	Kind  EventKind
	Patch NewsPatch
}

// ID returns the news id the event refers to.
func (e Event) ID() int64 { return e.Patch.ID }

// NewInsert wraps a full item as an insert event.
func NewInsert(item NewsItem) Event {
	return Event{Kind: Insert, Patch: PatchOf(item)}
}

// NewUpdate wraps a patch as an update event.
func NewUpdate(p NewsPatch) Event {
	return Event{Kind: Update, Patch: p}
}

// Envelope is the JSON frame exchanged on the realtime connection.
type Envelope struct {
	Type  string          `json:"type,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the event as a wire envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Patch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:  EnvelopeType,
		Event: e.Kind.String(),
		Data:  data,
	})
}
