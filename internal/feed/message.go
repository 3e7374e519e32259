package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"newsdesk/internal/domain"
)

var (
	// ErrMalformed reports a frame that is not valid JSON, lacks a news id,
	// or names an unknown event.
	ErrMalformed = errors.New("feed: malformed message")
	// ErrAmbiguous reports a news frame with no insert/update discriminator.
	// Only returned in strict mode.
	ErrAmbiguous = errors.New("feed: message has no event discriminator")
	// ErrIgnored reports a well-formed frame that is not a news event.
	ErrIgnored = errors.New("feed: not a news message")
)

// payload is the news object inside an envelope. event_type, when present,
// overrides the envelope's event field.
type payload struct {
	domain.NewsPatch
	EventType string `json:"event_type"`
}

// Parse classifies a raw frame from the realtime endpoint.
//
// A frame is a news event when its type is "news_update" or its event is
// one of "new_news"/"update_news". The payload is the "data" object when
// present, else the frame itself. With strict unset, a news frame carrying
// no discriminator is treated as an insert.
func Parse(raw []byte, strict bool) (domain.Event, error) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	_, knownEvent := domain.ParseEventKind(env.Event)
	if env.Type != domain.EnvelopeType && !knownEvent {
		return domain.Event{}, ErrIgnored
	}

	body := raw
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		body = d
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Event{}, fmt.Errorf("%w: decoding payload: %v", ErrMalformed, err)
	}
	if p.ID == 0 {
		return domain.Event{}, fmt.Errorf("%w: missing news_id", ErrMalformed)
	}

	name := p.EventType
	if name == "" {
		name = env.Event
	}
	if name == "" {
		if strict {
			return domain.Event{}, fmt.Errorf("%w: news_id %d", ErrAmbiguous, p.ID)
		}
		return domain.Event{Kind: domain.Insert, Patch: p.NewsPatch}, nil
	}

	kind, ok := domain.ParseEventKind(name)
	if !ok {
		return domain.Event{}, fmt.Errorf("%w: unknown event %q", ErrMalformed, name)
	}
	return domain.Event{Kind: kind, Patch: p.NewsPatch}, nil
}

// EncodeBatch serialises a batch as a JSON array of envelopes.
func EncodeBatch(batch []domain.Event) ([]byte, error) {
	return json.Marshal(batch)
}

// DecodeBatch parses a JSON array of envelopes produced by EncodeBatch.
// Elements that fail Parse in strict mode are skipped and counted in the
// returned error count.
func DecodeBatch(data []byte) ([]domain.Event, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decoding batch: %w", err)
	}
	events := make([]domain.Event, 0, len(raws))
	bad := 0
	for _, r := range raws {
		ev, err := Parse(r, true)
		if err != nil {
			bad++
			continue
		}
		events = append(events, ev)
	}
	return events, bad, nil
}
