package config

import (
	"fmt"
	"os"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Verbose  bool
	Database DatabaseConfig
	Nostr    NostrConfig
	Market   MarketConfig
	Admins   []string // npubs of admin users
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string
}

// NostrConfig holds Nostr-related settings.
type NostrConfig struct {
	Relays            []string
	OperatorNpub      string // Marketplace key in npub format
	OperatorPubkeyHex string // Derived from the secret key
	OperatorSecretHex string // Loaded from env, never from file
}

// MarketConfig holds marketplace settings.
type MarketConfig struct {
	FeeRateBps     int           // Platform fee in basis points (1000 = 10%)
	StorageTimeout time.Duration // Upper bound on any storage operation
}

// Load reads configuration from Viper and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{
		Verbose: viper.GetBool("verbose"),
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		Nostr: NostrConfig{
			Relays:       viper.GetStringSlice("nostr.relays"),
			OperatorNpub: viper.GetString("nostr.operator_npub"),
		},
		Market: MarketConfig{
			FeeRateBps:     viper.GetInt("market.fee_rate_bps"),
			StorageTimeout: viper.GetDuration("market.storage_timeout"),
		},
		Admins: viper.GetStringSlice("admins"),
	}

	// Apply defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "fleabot.db"
	}
	if len(cfg.Nostr.Relays) == 0 {
		cfg.Nostr.Relays = []string{"wss://relay.damus.io"}
	}
	if cfg.Market.FeeRateBps == 0 {
		cfg.Market.FeeRateBps = 1000
	}
	if cfg.Market.StorageTimeout == 0 {
		cfg.Market.StorageTimeout = 5 * time.Second
	}

	return cfg, nil
}

// LoadWithSecrets loads configuration and the marketplace secret key from
// the FLEABOT_NSEC environment variable. The secret never lives in a
// config file.
func LoadWithSecrets() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	nsec := os.Getenv("FLEABOT_NSEC")
	if nsec == "" {
		return nil, fmt.Errorf("FLEABOT_NSEC environment variable not set")
	}

	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("decoding FLEABOT_NSEC: %w", err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("FLEABOT_NSEC is not an nsec key (got %s)", prefix)
	}

	secretHex, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected nsec payload type %T", value)
	}

	pubkeyHex, err := nostr.GetPublicKey(secretHex)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}

	npub, err := nip19.EncodePublicKey(pubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("encoding npub: %w", err)
	}

	cfg.Nostr.OperatorSecretHex = secretHex
	cfg.Nostr.OperatorPubkeyHex = pubkeyHex
	cfg.Nostr.OperatorNpub = npub

	return cfg, nil
}
