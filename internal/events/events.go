// Package events publishes structured events to the shared event bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event is the envelope sent to the event bus.
type Event struct {
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// NewEvent builds an Event with detail JSON-encoded.
func NewEvent(detailType, source string, detail any) (Event, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s detail: %w", detailType, err)
	}
	return Event{
		DetailType: detailType,
		Source:     source,
		Time:       time.Now().UTC(),
		Detail:     raw,
	}, nil
}

// DecodeDetail unmarshals the event detail into v.
func (e Event) DecodeDetail(v any) error {
	return json.Unmarshal(e.Detail, v)
}

// Publisher sends events to the event bus.
type Publisher interface {
	SendEvent(ctx context.Context, ev Event) error
}

// MemoryPublisher records events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

var _ Publisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// SendEvent implements Publisher.
func (p *MemoryPublisher) SendEvent(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Events returns the events sent so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
