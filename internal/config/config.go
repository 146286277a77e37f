package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Fantasim/btcoracle/internal/models"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBPath        string `envconfig:"ORACLE_DB_PATH" default:"./data/oracle.sqlite"`
	Port          int    `envconfig:"ORACLE_PORT" default:"8090"`
	LogLevel      string `envconfig:"ORACLE_LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"ORACLE_LOG_FORMAT" default:"json"`
	LogDir        string `envconfig:"ORACLE_LOG_DIR" default:"./logs"`
	Network       string `envconfig:"ORACLE_NETWORK" default:"testnet"`
	ProvidersFile string `envconfig:"ORACLE_PROVIDERS_FILE" default:"./providers.yaml"`

	// TrackedAddress overrides the contract's bitcoinAddress() when set.
	TrackedAddress string `envconfig:"ORACLE_TRACKED_ADDRESS"`

	EVMRPCURLs      []string `envconfig:"ORACLE_EVM_RPC_URLS" required:"true"`
	EVMChainID      int64    `envconfig:"ORACLE_EVM_CHAIN_ID" default:"1"`
	ContractAddress string   `envconfig:"ORACLE_CONTRACT_ADDRESS" required:"true"`
	StartBlock      uint64   `envconfig:"ORACLE_START_BLOCK" default:"0"`

	SignerURL    string `envconfig:"ORACLE_SIGNER_URL" default:"http://127.0.0.1:7071"`
	SignerDomain string `envconfig:"ORACLE_SIGNER_DOMAIN" default:"oracle.local"`
	CustodyURL   string `envconfig:"ORACLE_CUSTODY_URL" default:"http://127.0.0.1:7070"`
	CustodyKeyID string `envconfig:"ORACLE_CUSTODY_KEY_ID" default:"oracle"`

	Confirmations        int64         `envconfig:"ORACLE_CONFIRMATIONS" default:"6"`
	MinAgreeingProviders int           `envconfig:"ORACLE_MIN_AGREEING_PROVIDERS" default:"1"`
	EventPollInterval    time.Duration `envconfig:"ORACLE_EVENT_POLL_INTERVAL" default:"15s"`
	ValidatePollInterval time.Duration `envconfig:"ORACLE_VALIDATE_POLL_INTERVAL" default:"10m"`
	ReconnectAttempts    int           `envconfig:"ORACLE_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectDelay       time.Duration `envconfig:"ORACLE_RECONNECT_DELAY" default:"5s"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BitcoinConfig is the part of the configuration the diagnostic commands
// need: provider access without any EVM settings.
type BitcoinConfig struct {
	LogLevel             string `envconfig:"ORACLE_LOG_LEVEL" default:"info"`
	Network              string `envconfig:"ORACLE_NETWORK" default:"testnet"`
	ProvidersFile        string `envconfig:"ORACLE_PROVIDERS_FILE" default:"./providers.yaml"`
	TrackedAddress       string `envconfig:"ORACLE_TRACKED_ADDRESS"`
	MinAgreeingProviders int    `envconfig:"ORACLE_MIN_AGREEING_PROVIDERS" default:"1"`
}

// LoadBitcoin reads BitcoinConfig the same way Load reads Config.
func LoadBitcoin() (*BitcoinConfig, error) {
	loadDotEnv()

	var cfg BitcoinConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := validateNetwork(cfg.Network); err != nil {
		return nil, err
	}
	if cfg.MinAgreeingProviders < 1 {
		return nil, fmt.Errorf("%w: min agreeing providers must be >= 1, got %d", ErrInvalidConfig, cfg.MinAgreeingProviders)
	}
	return &cfg, nil
}

// loadDotEnv applies .env without overriding variables already set.
func loadDotEnv() {
	for _, f := range []string{".env"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load .env file", "file", f, "error", err)
		} else {
			slog.Info("loaded .env file", "file", f)
		}
	}
}

func validateNetwork(network string) error {
	switch models.Network(network) {
	case models.NetworkMainnet, models.NetworkTestnet, models.NetworkRegtest:
		return nil
	default:
		return fmt.Errorf("%w: network must be \"mainnet\", \"testnet\" or \"regtest\", got %q", ErrInvalidConfig, network)
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if err := validateNetwork(c.Network); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if len(c.EVMRPCURLs) == 0 {
		return fmt.Errorf("%w: at least one EVM RPC URL is required", ErrInvalidConfig)
	}
	for _, u := range c.EVMRPCURLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w: EVM RPC URL must not be empty", ErrInvalidConfig)
		}
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("%w: contract address %q is not a 20-byte hex address", ErrInvalidConfig, c.ContractAddress)
	}
	if c.Confirmations < 1 {
		return fmt.Errorf("%w: confirmations must be >= 1, got %d", ErrInvalidConfig, c.Confirmations)
	}
	if c.MinAgreeingProviders < 1 {
		return fmt.Errorf("%w: min agreeing providers must be >= 1, got %d", ErrInvalidConfig, c.MinAgreeingProviders)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("%w: reconnect attempts must be >= 1, got %d", ErrInvalidConfig, c.ReconnectAttempts)
	}
	if c.EventPollInterval <= 0 || c.ValidatePollInterval <= 0 {
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	}
	return nil
}
