package nostr

import (
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// EventDeduplicator filters duplicate events that arrive from multiple
// relays. Events are deduplicated by ID and expired after a TTL. A second
// storage-level guard (the processed_events table) catches duplicates that
// arrive after a restart.
type EventDeduplicator struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewEventDeduplicator creates a deduplicator with the given TTL.
func NewEventDeduplicator(ttl time.Duration) *EventDeduplicator {
	return &EventDeduplicator{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate returns true if this event ID has been seen before.
// If not a duplicate, marks the event as seen.
func (ed *EventDeduplicator) IsDuplicate(event *nostr.Event) bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if _, exists := ed.seen[event.ID]; exists {
		return true
	}

	ed.seen[event.ID] = time.Now()
	return false
}

// Cleanup removes entries older than TTL. Call periodically.
func (ed *EventDeduplicator) Cleanup() {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	cutoff := time.Now().Add(-ed.ttl)
	for id, seenAt := range ed.seen {
		if seenAt.Before(cutoff) {
			delete(ed.seen, id)
		}
	}
}
