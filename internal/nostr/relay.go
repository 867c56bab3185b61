package nostr

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// RelayManager handles connections to multiple Nostr relays and the
// marketplace's DM subscription.
type RelayManager struct {
	relayURLs         []string
	operatorPubkeyHex string
	relays            []*nostr.Relay
	mu                sync.RWMutex

	// kind:1059 gift-wrapped DMs addressed to the marketplace key
	dmEvents chan *nostr.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayManager creates a relay manager for the given relay URLs.
func NewRelayManager(relayURLs []string, operatorPubkeyHex string) *RelayManager {
	return &RelayManager{
		relayURLs:         relayURLs,
		operatorPubkeyHex: operatorPubkeyHex,
		dmEvents:          make(chan *nostr.Event, 100),
	}
}

// Connect establishes connections to all configured relays and starts
// subscriptions.
func (rm *RelayManager) Connect(ctx context.Context) error {
	rm.ctx, rm.cancel = context.WithCancel(ctx)

	var connected int
	for _, url := range rm.relayURLs {
		relay, err := nostr.RelayConnect(rm.ctx, url)
		if err != nil {
			log.Printf("failed to connect to %s: %v", url, err)
			continue
		}

		rm.mu.Lock()
		rm.relays = append(rm.relays, relay)
		rm.mu.Unlock()

		connected++
		log.Printf("connected to %s", url)

		rm.wg.Add(1)
		go rm.subscribeRelay(relay)
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any relays")
	}

	log.Printf("connected to %d/%d relays", connected, len(rm.relayURLs))
	return nil
}

// subscribeRelay manages the DM subscription for a single relay with
// reconnection logic.
func (rm *RelayManager) subscribeRelay(relay *nostr.Relay) {
	defer rm.wg.Done()

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-rm.ctx.Done():
			return
		default:
		}

		// kind:1059 = gift-wrapped DMs addressed to the marketplace key
		filters := []nostr.Filter{
			{
				Kinds: []int{nostr.KindGiftWrap},
				Tags:  nostr.TagMap{"p": []string{rm.operatorPubkeyHex}},
			},
		}

		sub, err := relay.Subscribe(rm.ctx, filters)
		if err != nil {
			log.Printf("subscription failed on %s: %v", relay.URL, err)
			if rm.reconnect(relay, &backoff, maxBackoff) {
				continue
			}
			return
		}

		backoff = time.Second
		log.Printf("subscribed to DMs on %s", relay.URL)

		if !rm.drainEvents(sub.Events) {
			sub.Unsub()
			return
		}

		// The relay closed the subscription; reconnect and loop around to
		// a fresh Subscribe.
		log.Printf("subscription closed on %s, reconnecting...", relay.URL)
		if !rm.reconnect(relay, &backoff, maxBackoff) {
			return
		}
	}
}

// drainEvents forwards subscription events to the DM channel until the
// subscription closes or the manager shuts down. Returns true when the
// caller should resubscribe, false when the context ended.
func (rm *RelayManager) drainEvents(events <-chan *nostr.Event) bool {
	for {
		select {
		case <-rm.ctx.Done():
			return false

		case event, ok := <-events:
			if !ok {
				return true
			}

			select {
			case rm.dmEvents <- event:
			default:
				log.Printf("DM event channel full, dropping event %s", event.ID)
			}
		}
	}
}

// reconnect attempts to reconnect to a relay with exponential backoff.
// Returns true if reconnection should be attempted, false if context is done.
func (rm *RelayManager) reconnect(relay *nostr.Relay, backoff *time.Duration, maxBackoff time.Duration) bool {
	select {
	case <-rm.ctx.Done():
		return false
	case <-time.After(*backoff):
	}

	err := relay.Connect(rm.ctx)
	if err != nil {
		log.Printf("reconnect to %s failed: %v", relay.URL, err)

		*backoff *= 2
		if *backoff > maxBackoff {
			*backoff = maxBackoff
		}
		return true
	}

	log.Printf("reconnected to %s", relay.URL)
	*backoff = time.Second
	return true
}

// DMEvents returns the channel of gift-wrapped DM events (kind:1059).
func (rm *RelayManager) DMEvents() <-chan *nostr.Event {
	return rm.dmEvents
}

// Publish sends an event to all connected relays.
func (rm *RelayManager) Publish(ctx context.Context, event *nostr.Event) error {
	rm.mu.RLock()
	relays := make([]*nostr.Relay, len(rm.relays))
	copy(relays, rm.relays)
	rm.mu.RUnlock()

	var lastErr error
	var published int

	for _, relay := range relays {
		err := relay.Publish(ctx, *event)
		if err != nil {
			lastErr = err
			log.Printf("publish to %s failed: %v", relay.URL, err)
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	return nil
}

// Close gracefully shuts down all relay connections.
func (rm *RelayManager) Close() {
	if rm.cancel != nil {
		rm.cancel()
	}

	rm.wg.Wait()

	rm.mu.Lock()
	for _, relay := range rm.relays {
		_ = relay.Close()
	}
	rm.relays = nil
	rm.mu.Unlock()

	close(rm.dmEvents)

	log.Printf("relay manager closed")
}
