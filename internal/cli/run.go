package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip59"
	"github.com/spf13/cobra"

	"github.com/buildtall-systems/fleabot/internal/commands"
	"github.com/buildtall-systems/fleabot/internal/config"
	"github.com/buildtall-systems/fleabot/internal/db"
	"github.com/buildtall-systems/fleabot/internal/dm"
	"github.com/buildtall-systems/fleabot/internal/market"
	"github.com/buildtall-systems/fleabot/internal/nostr"
	"github.com/buildtall-systems/fleabot/internal/statusgraph"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the fleabot marketplace service",
	Long:  `Start the fleabot marketplace. Connects to relays and serves marketplace commands sent as direct messages.`,
	RunE:  runMarket,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMarket(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithSecrets()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Printf("fleabot starting...")
	log.Printf("marketplace key: %s", cfg.Nostr.OperatorNpub)
	log.Printf("relays: %v", cfg.Nostr.Relays)
	log.Printf("database: %s", cfg.Database.Path)
	log.Printf("platform fee: %d bps", cfg.Market.FeeRateBps)

	kr, err := keyer.NewPlainKeySigner(cfg.Nostr.OperatorSecretHex)
	if err != nil {
		return fmt.Errorf("creating keyer: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = database.Close() }()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Printf("database ready")

	graph := statusgraph.New(database)
	engine := market.NewEngine(database, graph, cfg.Market.FeeRateBps, cfg.Market.StorageTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	relayMgr := nostr.NewRelayManager(cfg.Nostr.Relays, cfg.Nostr.OperatorPubkeyHex)
	if err := relayMgr.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to relays: %w", err)
	}
	defer relayMgr.Close()

	dedup := nostr.NewEventDeduplicator(time.Hour)
	cleanupTicker := time.NewTicker(10 * time.Minute)
	defer cleanupTicker.Stop()

	execCfg := commands.ExecuteConfig{Admins: cfg.Admins}

	log.Printf("fleabot running, waiting for events...")

	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down...")
			return nil

		case <-cleanupTicker.C:
			dedup.Cleanup()

		case event := <-relayMgr.DMEvents():
			if event == nil {
				continue
			}
			if dedup.IsDuplicate(event) {
				continue
			}

			// Persistent dedupe: a DM redelivered after a restart must
			// not re-execute its command.
			isNew, err := database.TryProcess(ctx, event.ID, event.Kind, int64(event.CreatedAt))
			if err != nil {
				log.Printf("recording event %s: %v", event.ID[:8], err)
				continue
			}
			if !isNew {
				continue
			}

			rumor, err := nip59.GiftUnwrap(*event, func(pubkey, ciphertext string) (string, error) {
				return kr.Decrypt(ctx, ciphertext, pubkey)
			})
			if err != nil {
				log.Printf("failed to unwrap DM: %v", err)
				continue
			}

			senderNpub, err := nip19.EncodePublicKey(rumor.PubKey)
			if err != nil {
				log.Printf("encoding sender pubkey: %v", err)
				continue
			}

			if cfg.Verbose {
				log.Printf("DM from %s: %s", senderNpub, rumor.Content)
			}

			parsed := commands.Parse(rumor.Content)
			if parsed == nil {
				continue
			}

			if err := commands.CanExecute(parsed, senderNpub, cfg.Admins); err != nil {
				log.Printf("permission denied for %s: %v", senderNpub, err)
				sendDM(ctx, kr, relayMgr, cfg.Nostr.OperatorPubkeyHex, rumor.PubKey, err.Error())
				continue
			}

			result := commands.Execute(ctx, database, engine, graph, parsed, senderNpub, execCfg)

			if result.Error != nil {
				log.Printf("command %s from %s: %v", parsed.Name, senderNpub, result.Error)
				sendDM(ctx, kr, relayMgr, cfg.Nostr.OperatorPubkeyHex, rumor.PubKey, result.Error.Error())
				continue
			}

			if result.Message != "" {
				sendDM(ctx, kr, relayMgr, cfg.Nostr.OperatorPubkeyHex, rumor.PubKey, result.Message)
			}

			for _, notice := range result.Notices {
				recipientHex, err := decodeNpub(notice.RecipientNpub)
				if err != nil {
					log.Printf("decoding notice recipient %s: %v", notice.RecipientNpub, err)
					continue
				}
				sendDM(ctx, kr, relayMgr, cfg.Nostr.OperatorPubkeyHex, recipientHex, notice.Message)
			}
		}
	}
}

// sendDM wraps and publishes a DM, logging failures instead of aborting the
// event loop.
func sendDM(ctx context.Context, kr gonostr.Keyer, relayMgr *nostr.RelayManager, operatorPubkeyHex, recipientPubkeyHex, message string) {
	wrapped, err := dm.WrapResponse(ctx, kr, operatorPubkeyHex, recipientPubkeyHex, message)
	if err != nil {
		log.Printf("wrapping response: %v", err)
		return
	}
	if err := relayMgr.Publish(ctx, wrapped); err != nil {
		log.Printf("publishing response: %v", err)
		return
	}

	if npub, err := nip19.EncodePublicKey(recipientPubkeyHex); err == nil {
		log.Printf("sent response to %s", npub)
	}
}

func decodeNpub(npub string) (string, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", err
	}
	if prefix != "npub" {
		return "", fmt.Errorf("not an npub: %s", npub)
	}
	hex, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unexpected npub payload type %T", value)
	}
	return hex, nil
}
