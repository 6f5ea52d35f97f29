// Package bus is the in-process publish/subscribe bus used for cross-component
// notification. Event types are colon-separated topics ("auth:user:signin");
// subscriptions take an exact type or a glob pattern ("auth:user:*").
package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const eventBufferSize = 16

// Event is a single bus notification. Labels are free-form descriptive tags
// for downstream observers to filter on.
type Event struct {
	Type     string    `json:"type"`
	SourceID string    `json:"source_id"`
	Payload  any       `json:"payload,omitempty"`
	Labels   []string  `json:"labels,omitempty"`
	At       time.Time `json:"at"`
}

// Handler receives events on the subscriber's own goroutine.
type Handler func(Event)

type subscription struct {
	pattern string // "/"-normalized glob, empty for exact subscriptions
	exact   string
	events  chan Event
}

func (s *subscription) matches(eventType, normalized string) bool {
	if s.pattern == "" {
		return s.exact == eventType
	}
	ok, _ := doublestar.Match(s.pattern, normalized)
	return ok
}

// Bus fans events out to pattern subscribers. Delivery is asynchronous and
// per-subscriber buffered; a slow subscriber drops events rather than
// blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers handler for every event whose type matches pattern.
// The pattern is validated and compiled once here, never per publish.
// The returned func unsubscribes.
func (b *Bus) Subscribe(pattern string, handler Handler) (func(), error) {
	sub := &subscription{events: make(chan Event, eventBufferSize)}
	if strings.ContainsAny(pattern, "*?[{") {
		normalized := normalize(pattern)
		if !doublestar.ValidatePattern(normalized) {
			return nil, fmt.Errorf("bus: invalid pattern %q", pattern)
		}
		sub.pattern = normalized
	} else {
		sub.exact = pattern
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: closed")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for ev := range sub.events {
			handler(ev)
		}
	}()

	return func() { b.unsubscribe(id) }, nil
}

// Publish delivers the event to every matching subscriber. Never blocks.
func (b *Bus) Publish(eventType, sourceID string, payload any, labels ...string) {
	ev := Event{
		Type:     eventType,
		SourceID: sourceID,
		Payload:  payload,
		Labels:   labels,
		At:       time.Now().UTC(),
	}
	normalized := normalize(eventType)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.matches(eventType, normalized) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			slog.Debug("bus subscriber buffer full, event dropped", "type", eventType)
		}
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.events)
	}
}

// Close tears down all subscriptions. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.events)
	}
}

// normalize maps colon topics onto path segments so doublestar's "*" spans
// exactly one topic segment.
func normalize(s string) string {
	return strings.ReplaceAll(s, ":", "/")
}
