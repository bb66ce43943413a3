package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then applies SOVEREIGN_*
// environment overrides. A missing file is not an error, so a deployment can
// run on environment alone. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Protocol ──
	setBool(&cfg.Protocol.Bootstrap, "SOVEREIGN_PROTOCOL_BOOTSTRAP")
	setStr(&cfg.Protocol.Authority, "SOVEREIGN_PROTOCOL_AUTHORITY")
	setStr(&cfg.Protocol.Treasury, "SOVEREIGN_PROTOCOL_TREASURY")
	setUint64(&cfg.Protocol.CreationFeeBPS, "SOVEREIGN_PROTOCOL_CREATION_FEE_BPS")
	setUint64(&cfg.Protocol.MinFee, "SOVEREIGN_PROTOCOL_MIN_FEE")
	setUint64(&cfg.Protocol.UnwindFeeBPS, "SOVEREIGN_PROTOCOL_UNWIND_FEE_BPS")
	setUint64(&cfg.Protocol.ProtocolFeeBPS, "SOVEREIGN_PROTOCOL_PROTOCOL_FEE_BPS")
	setUint64(&cfg.Protocol.MinBondTarget, "SOVEREIGN_PROTOCOL_MIN_BOND_TARGET")
	setUint64(&cfg.Protocol.MinDeposit, "SOVEREIGN_PROTOCOL_MIN_DEPOSIT")
	setUint64(&cfg.Protocol.VolumeThresholdBPS, "SOVEREIGN_PROTOCOL_VOLUME_THRESHOLD_BPS")

	// ── Authority ──
	setStr(&cfg.Authority.PrivateKey, "SOVEREIGN_AUTHORITY_PRIVATE_KEY")
	setStr(&cfg.Authority.EncryptedKeyPath, "SOVEREIGN_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "SOVEREIGN_AUTHORITY_KEY_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SOVEREIGN_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SOVEREIGN_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SOVEREIGN_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SOVEREIGN_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "SOVEREIGN_DATABASE_USER")
	setStr(&cfg.Database.Password, "SOVEREIGN_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SOVEREIGN_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SOVEREIGN_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SOVEREIGN_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SOVEREIGN_DATABASE_RUN_MIGRATIONS")
	setDuration(&cfg.Database.StatementTimeout, "SOVEREIGN_DATABASE_STATEMENT_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOVEREIGN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOVEREIGN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOVEREIGN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOVEREIGN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOVEREIGN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOVEREIGN_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "SOVEREIGN_REDIS_CACHE_TTL")
	setStr(&cfg.Redis.KeyPrefix, "SOVEREIGN_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SOVEREIGN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOVEREIGN_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOVEREIGN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOVEREIGN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOVEREIGN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOVEREIGN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOVEREIGN_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "SOVEREIGN_S3_PREFIX")
	setStr(&cfg.S3.SSE, "SOVEREIGN_S3_SSE")

	// ── Gateway ──
	setStr(&cfg.Gateway.Kind, "SOVEREIGN_GATEWAY_KIND")
	setStr(&cfg.Gateway.URL, "SOVEREIGN_GATEWAY_URL")
	setStr(&cfg.Gateway.APIKey, "SOVEREIGN_GATEWAY_API_KEY")
	setStr(&cfg.Gateway.APISecret, "SOVEREIGN_GATEWAY_API_SECRET")
	setBool(&cfg.Gateway.Faucet, "SOVEREIGN_GATEWAY_FAUCET")

	// ── Keeper ──
	setDuration(&cfg.Keeper.LifecycleInterval, "SOVEREIGN_KEEPER_LIFECYCLE_INTERVAL")
	setDuration(&cfg.Keeper.FeeInterval, "SOVEREIGN_KEEPER_FEE_INTERVAL")
	setDuration(&cfg.Keeper.ArchiveInterval, "SOVEREIGN_KEEPER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Keeper.OutboxInterval, "SOVEREIGN_KEEPER_OUTBOX_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "SOVEREIGN_KEEPER_BATCH_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SOVEREIGN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SOVEREIGN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SOVEREIGN_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SOVEREIGN_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.VerifySignatures, "SOVEREIGN_SERVER_VERIFY_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxAge, "SOVEREIGN_SERVER_SIGNATURE_MAX_AGE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOVEREIGN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOVEREIGN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOVEREIGN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOVEREIGN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOVEREIGN_MODE")
	setStr(&cfg.Store, "SOVEREIGN_STORE")
	setStr(&cfg.LogLevel, "SOVEREIGN_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty, and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
