package nostr

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestDrainEventsForwardsThenRequestsResubscribe(t *testing.T) {
	rm := NewRelayManager(nil, "operator-pubkey")
	rm.ctx, rm.cancel = context.WithCancel(context.Background())
	defer rm.cancel()

	events := make(chan *nostr.Event, 2)
	events <- &nostr.Event{ID: "dm-1"}
	events <- &nostr.Event{ID: "dm-2"}
	close(events)

	// A closed subscription must hand control back for a fresh Subscribe,
	// after forwarding everything that was still buffered.
	if !rm.drainEvents(events) {
		t.Error("closed subscription should request a resubscribe")
	}

	for _, want := range []string{"dm-1", "dm-2"} {
		select {
		case got := <-rm.DMEvents():
			if got.ID != want {
				t.Errorf("forwarded event = %s, want %s", got.ID, want)
			}
		default:
			t.Fatalf("event %s was not forwarded", want)
		}
	}
}

func TestDrainEventsStopsOnShutdown(t *testing.T) {
	rm := NewRelayManager(nil, "operator-pubkey")
	rm.ctx, rm.cancel = context.WithCancel(context.Background())
	rm.cancel()

	if rm.drainEvents(make(chan *nostr.Event)) {
		t.Error("cancelled manager should not request a resubscribe")
	}
}
