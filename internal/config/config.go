// Package config defines the sovereign daemon's configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by SOVEREIGN_* environment variables.
type Config struct {
	Protocol  ProtocolConfig  `toml:"protocol"`
	Authority AuthorityConfig `toml:"authority"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	Store     string          `toml:"store"`
	LogLevel  string          `toml:"log_level"`
}

// ProtocolConfig holds the genesis parameters. With Bootstrap set the daemon
// initializes the protocol singleton on first start.
type ProtocolConfig struct {
	Bootstrap           bool     `toml:"bootstrap"`
	Authority           string   `toml:"authority"`
	Treasury            string   `toml:"treasury"`
	CreationFeeBPS      uint64   `toml:"creation_fee_bps"`
	MinFee              uint64   `toml:"min_fee"`
	GovernanceUnwindFee uint64   `toml:"governance_unwind_fee"`
	UnwindFeeBPS        uint64   `toml:"unwind_fee_bps"`
	ProtocolFeeBPS      uint64   `toml:"protocol_fee_bps"`
	BYOMinSupplyBPS     uint64   `toml:"byo_min_supply_bps"`
	MinBondTarget       uint64   `toml:"min_bond_target"`
	MinDeposit          uint64   `toml:"min_deposit"`
	AutoUnwindPeriod    duration `toml:"auto_unwind_period"`
	VolumeThresholdBPS  uint64   `toml:"volume_threshold_bps"`
}

// AuthorityConfig locates the key that signs event receipts. Empty means
// receipts are not signed.
type AuthorityConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	RunMigrations    bool     `toml:"run_migrations"`
	StatementTimeout duration `toml:"statement_timeout"`
}

// RedisConfig holds Redis connection parameters. Empty Addr disables Redis.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
	// KeyPrefix namespaces every key, channel and stream.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds object storage parameters. Empty Bucket disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// Prefix roots every object, e.g. "mainnet" gives
	// mainnet/archive/audit/2026-03.jsonl.
	Prefix string `toml:"prefix"`
	// SSE is the server-side encryption mode: "", "AES256" or "aws:kms".
	SSE string `toml:"sse"`
}

// GatewayConfig selects the pool and custody backend.
type GatewayConfig struct {
	// Kind is "simulated" or "rpc".
	Kind       string `toml:"kind"`
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	SwapFeeBPS uint64 `toml:"swap_fee_bps"`
	// Faucet lets the simulated custody mint funding on demand.
	Faucet bool `toml:"faucet"`
}

// KeeperConfig holds the background sweep intervals.
type KeeperConfig struct {
	LifecycleInterval duration `toml:"lifecycle_interval"`
	FeeInterval       duration `toml:"fee_interval"`
	ArchiveInterval   duration `toml:"archive_interval"`
	OutboxInterval    duration `toml:"outbox_interval"`
	BatchSize         int      `toml:"batch_size"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	// VerifySignatures requires an EIP-191 caller signature on every
	// request. Disable only behind a trusted proxy.
	VerifySignatures bool     `toml:"verify_signatures"`
	SignatureMaxAge  duration `toml:"signature_max_age"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when a key is absent from the file.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			Bootstrap:           false,
			CreationFeeBPS:      50,
			MinFee:              50_000_000,
			GovernanceUnwindFee: 50_000_000,
			UnwindFeeBPS:        2000,
			ProtocolFeeBPS:      100,
			BYOMinSupplyBPS:     3000,
			MinBondTarget:       50_000_000_000,
			MinDeposit:          100_000_000,
			AutoUnwindPeriod:    duration{90 * 24 * time.Hour},
			VolumeThresholdBPS:  1000,
		},
		Database: DatabaseConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "sovereign",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			RunMigrations:    true,
			StatementTimeout: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{30 * time.Second},
			KeyPrefix:  "sovereignd",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sovereign-archive",
			ForcePathStyle: true,
		},
		Gateway: GatewayConfig{
			Kind:       "simulated",
			SwapFeeBPS: 30,
		},
		Keeper: KeeperConfig{
			LifecycleInterval: duration{time.Minute},
			FeeInterval:       duration{15 * time.Minute},
			ArchiveInterval:   duration{24 * time.Hour},
			OutboxInterval:    duration{30 * time.Second},
			BatchSize:         500,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			VerifySignatures: true,
			SignatureMaxAge:  duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				"bonding_complete", "bonding_failed", "recovery_complete",
				"unwind_passed", "unwind_cancelled", "unwound",
				"emergency_unlocked", "redemption_swept",
			},
			RateLimit:  20,
			RateWindow: duration{time.Minute},
		},
		Mode:     "full",
		Store:    "postgres",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

var validStores = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validGateways = map[string]bool{
	"simulated": true,
	"rpc":       true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one error
// listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, memory)", c.Store))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol
	for name, v := range map[string]string{"authority": c.Protocol.Authority, "treasury": c.Protocol.Treasury} {
		if v != "" && !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("protocol: %s %q is not a hex address", name, v))
		}
	}
	if c.Protocol.Bootstrap && c.Protocol.Authority == "" {
		errs = append(errs, "protocol: authority is required when bootstrap is set")
	}
	if c.Protocol.CreationFeeBPS > 1000 {
		errs = append(errs, "protocol: creation_fee_bps must be <= 1000")
	}
	if c.Protocol.UnwindFeeBPS > 2000 {
		errs = append(errs, "protocol: unwind_fee_bps must be <= 2000")
	}
	if c.Protocol.ProtocolFeeBPS > 500 {
		errs = append(errs, "protocol: protocol_fee_bps must be <= 500")
	}
	if c.Protocol.BYOMinSupplyBPS > 10_000 {
		errs = append(errs, "protocol: byo_min_supply_bps must be <= 10000")
	}
	if c.Protocol.VolumeThresholdBPS > 10_000 {
		errs = append(errs, "protocol: volume_threshold_bps must be <= 10000")
	}

	// Authority
	if c.Authority.EncryptedKeyPath != "" && c.Authority.KeyPassword == "" {
		errs = append(errs, "authority: key_password is required when encrypted_key_path is set")
	}

	// Database
	if strings.ToLower(c.Store) == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when bucket is set")
		}
		switch c.S3.SSE {
		case "", "AES256", "aws:kms":
		default:
			errs = append(errs, fmt.Sprintf("s3: unknown sse %q (valid: AES256, aws:kms)", c.S3.SSE))
		}
	}

	// Gateway
	switch strings.ToLower(c.Gateway.Kind) {
	case "rpc":
		if c.Gateway.URL == "" {
			errs = append(errs, "gateway: url is required for kind rpc")
		}
		if (c.Gateway.APIKey == "") != (c.Gateway.APISecret == "") {
			errs = append(errs, "gateway: api_key and api_secret must be set together")
		}
	case "simulated":
		if c.Gateway.SwapFeeBPS >= 10_000 {
			errs = append(errs, "gateway: swap_fee_bps must be < 10000")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown gateway kind %q (valid: simulated, rpc)", c.Gateway.Kind))
	}

	// Keeper
	if c.Keeper.LifecycleInterval.Duration < 0 || c.Keeper.FeeInterval.Duration < 0 || c.Keeper.ArchiveInterval.Duration < 0 ||
		c.Keeper.OutboxInterval.Duration < 0 {
		errs = append(errs, "keeper: intervals must not be negative")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.VerifySignatures && c.Server.SignatureMaxAge.Duration <= 0 {
		errs = append(errs, "server: signature_max_age must be > 0 when verify_signatures is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
