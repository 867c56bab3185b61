package dm

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip59"
)

// WrapResponse creates a NIP-17 gift-wrapped DM from the marketplace key to
// a recipient. Returns a ready-to-publish kind:1059 event.
func WrapResponse(ctx context.Context, kr nostr.Keyer, operatorPubkeyHex, recipientPubkeyHex, message string) (*nostr.Event, error) {
	// The rumor is the actual message (kind:14 direct message).
	rumor := nostr.Event{
		PubKey:    operatorPubkeyHex,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindDirectMessage,
		Tags: nostr.Tags{
			nostr.Tag{"p", recipientPubkeyHex},
		},
		Content: message,
	}

	// NIP-59: rumor -> seal (kind:13) -> gift wrap (kind:1059)
	giftWrap, err := nip59.GiftWrap(
		rumor,
		recipientPubkeyHex,
		func(plaintext string) (string, error) {
			return kr.Encrypt(ctx, plaintext, recipientPubkeyHex)
		},
		func(event *nostr.Event) error {
			return kr.SignEvent(ctx, event)
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("gift wrapping response: %w", err)
	}

	return &giftWrap, nil
}
