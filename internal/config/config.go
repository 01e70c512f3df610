// Package config loads the process configuration from the environment and
// validates it before anything is wired up.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/qrcoast/linkdrop/internal/pkg/validator"
)

// Config is the full environment-derived configuration.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP surface.
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	APIKey   string `envconfig:"CLAIM_API_KEY" validate:"required"`

	// Upstash QStash request signing, current and next keys so rotation
	// never drops triggers.
	QStashCurrentSigningKey string `envconfig:"QSTASH_CURRENT_SIGNING_KEY"`
	QStashNextSigningKey    string `envconfig:"QSTASH_NEXT_SIGNING_KEY"`

	// Storage.
	RedisAddr     string `envconfig:"REDIS_ADDR" validate:"required"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN" validate:"required"`

	// Chain access. The archive endpoint serves historical balance reads;
	// it falls back to the primary endpoint when unset.
	RPCURL        string `envconfig:"RPC_URL" validate:"required,url"`
	ArchiveRPCURL string `envconfig:"ARCHIVE_RPC_URL" validate:"omitempty,url"`
	TokenAddress  string `envconfig:"TOKEN_ADDRESS" validate:"required"`

	// Signing wallets, one set per claim source. Each source uses its own
	// airdrop contract; sources without pooled keys fall back to the
	// direct key.
	Wallets WalletsConfig

	// Identity providers.
	PrivyBaseURL     string `envconfig:"PRIVY_BASE_URL" default:"https://auth.privy.io"`
	PrivyAppID       string `envconfig:"PRIVY_APP_ID" validate:"required"`
	PrivyAppSecret   string `envconfig:"PRIVY_APP_SECRET" validate:"required"`
	NeynarBaseURL    string `envconfig:"NEYNAR_BASE_URL" default:"https://api.neynar.com"`
	NeynarAPIKey     string `envconfig:"NEYNAR_API_KEY" validate:"required"`
	MiniAppJWTSecret string `envconfig:"MINIAPP_JWT_SECRET" validate:"required"`
	PriceBaseURL     string `envconfig:"PRICE_BASE_URL" default:"https://api.coingecko.com"`

	// DeniedUsernames are hard-blocked before any ban-table lookup.
	DeniedUsernames []string `envconfig:"DENIED_USERNAMES"`

	// Telemetry. Disabled when the endpoint is empty.
	OtelExporterEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName          string `envconfig:"SERVICE_NAME" default:"linkdrop"`
}

// WalletsConfig holds the signer keys and contracts per claim source.
type WalletsConfig struct {
	WebKeys         []string `envconfig:"WEB_WALLET_KEYS"`
	WebDirectKey    string   `envconfig:"WEB_WALLET_KEY"`
	WebContract     string   `envconfig:"WEB_AIRDROP_CONTRACT" validate:"required"`
	MobileKeys      []string `envconfig:"MOBILE_WALLET_KEYS"`
	MobileDirectKey string   `envconfig:"MOBILE_WALLET_KEY"`
	MobileContract  string   `envconfig:"MOBILE_AIRDROP_CONTRACT" validate:"required"`
	MiniAppKeys     []string `envconfig:"MINIAPP_WALLET_KEYS"`
	MiniAppContract string   `envconfig:"MINIAPP_AIRDROP_CONTRACT" validate:"required"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}

	if cfg.ArchiveRPCURL == "" {
		cfg.ArchiveRPCURL = cfg.RPCURL
	}

	return cfg, nil
}
