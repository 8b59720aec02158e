package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads an optional TOML configuration file at path, merges it on top of
// the built-in defaults, applies BRIDGE_* environment variable overrides, and
// returns the final Config. An empty path skips the file and configures the
// bridge from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	fillShareDefaults(&cfg)

	return &cfg, nil
}

// fillShareDefaults restores the public RPC endpoint for known share networks
// whose TOML table omitted rpc_url. The decoder replaces map entries wholesale,
// so defaults set in Defaults() do not survive a partial table.
func fillShareDefaults(cfg *Config) {
	for name, n := range cfg.Shares.Networks {
		if n.RPCURL == "" {
			n.RPCURL = defaultShareRPC[name]
			cfg.Shares.Networks[name] = n
		}
	}
}

// applyEnvOverrides reads well-known BRIDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Unprefixed names from the first deployment are still honoured as
// compatibility aliases; the prefixed name wins when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.Network, "BRIDGE_CHAIN_NETWORK")
	setStr(&cfg.Chain.RPCURL, "RPC_URL") // compatibility alias
	setStr(&cfg.Chain.RPCURL, "BRIDGE_CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "BRIDGE_CHAIN_WS_URL")
	setStr(&cfg.Chain.USDCAddress, "USDC_ADDRESS") // compatibility alias
	setStr(&cfg.Chain.USDCAddress, "BRIDGE_CHAIN_USDC_ADDRESS")
	setStr(&cfg.Chain.DepositAddress, "KALSHI_DEPOSIT_ADDRESS") // compatibility alias
	setStr(&cfg.Chain.DepositAddress, "BRIDGE_CHAIN_DEPOSIT_ADDRESS")
	setStr(&cfg.Chain.LedgerAddress, "BALANCE_VAULT_ADDRESS") // compatibility alias
	setStr(&cfg.Chain.LedgerAddress, "BRIDGE_CHAIN_LEDGER_ADDRESS")
	setUint64(&cfg.Chain.StartBlock, "START_BLOCK") // compatibility alias
	setUint64(&cfg.Chain.StartBlock, "BRIDGE_CHAIN_START_BLOCK")
	setUint64(&cfg.Chain.MaxBlockRange, "BRIDGE_CHAIN_MAX_BLOCK_RANGE")
	setDuration(&cfg.Chain.PollInterval, "BRIDGE_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.ConfirmTimeout, "BRIDGE_CHAIN_CONFIRM_TIMEOUT")
	setInt(&cfg.Chain.ConfirmRetries, "BRIDGE_CHAIN_CONFIRM_RETRIES")
	setDuration(&cfg.Chain.LockTTL, "BRIDGE_CHAIN_LOCK_TTL")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "OWNER_PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Signer.PrivateKey, "BRIDGE_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "BRIDGE_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "BRIDGE_SIGNER_KEY_PASSWORD")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKey, "KALSHI_API_KEY") // compatibility alias
	setStr(&cfg.Kalshi.ApiKey, "BRIDGE_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "KALSHI_PRIVATE_KEY_PATH") // compatibility alias
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "BRIDGE_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.RsaPrivateKeyPEM, "KALSHI_PRIVATE_KEY_PEM") // compatibility alias
	setStr(&cfg.Kalshi.RsaPrivateKeyPEM, "BRIDGE_KALSHI_RSA_PRIVATE_KEY_PEM")
	setStr(&cfg.Kalshi.BaseURL, "BRIDGE_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "BRIDGE_KALSHI_WS_URL")
	setBool(&cfg.Kalshi.FillStream, "BRIDGE_KALSHI_FILL_STREAM")

	// ── Shares ──
	setBool(&cfg.Shares.Enabled, "BRIDGE_SHARES_ENABLED")
	setStr(&cfg.Shares.Network, "BRIDGE_SHARES_NETWORK")
	setStr(&cfg.Shares.PrivateKey, "BRIDGE_SHARES_PRIVATE_KEY")
	applyShareNetworkEnv(cfg)

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "BRIDGE_LEDGER_BACKEND")
	setStr(&cfg.Ledger.SQLitePath, "BRIDGE_LEDGER_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "BRIDGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BRIDGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BRIDGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BRIDGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BRIDGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BRIDGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BRIDGE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BRIDGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BRIDGE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BRIDGE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BRIDGE_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "BRIDGE_REDIS_URL")
	setStr(&cfg.Redis.Addr, "BRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BRIDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BRIDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BRIDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BRIDGE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BRIDGE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BRIDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BRIDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BRIDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BRIDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BRIDGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BRIDGE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BRIDGE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BRIDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setInt(&cfg.Server.Port, "BRIDGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BRIDGE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BRIDGE_SERVER_API_KEY")
	setInt(&cfg.Server.RatePerMinute, "BRIDGE_SERVER_RATE_PER_MINUTE")
	setBool(&cfg.Server.Metrics, "BRIDGE_SERVER_METRICS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BRIDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BRIDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BRIDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BRIDGE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BRIDGE_MODE")
	setStr(&cfg.LogLevel, "BRIDGE_LOG_LEVEL")
}

// applyShareNetworkEnv reads BRIDGE_SHARES_<NETWORK>_* for the selected share
// network, creating its entry when the TOML file did not declare one.
func applyShareNetworkEnv(cfg *Config) {
	name := strings.ToLower(cfg.Shares.Network)
	if name == "" {
		return
	}
	prefix := "BRIDGE_SHARES_" + strings.ToUpper(name) + "_"

	n := cfg.Shares.Networks[name]
	setStr(&n.RPCURL, prefix+"RPC_URL")
	setStr(&n.YesShareAddress, prefix+"YES_SHARE_ADDRESS")
	setStr(&n.NoShareAddress, prefix+"NO_SHARE_ADDRESS")

	if cfg.Shares.Networks == nil {
		cfg.Shares.Networks = make(map[string]ShareNetworkConfig)
	}
	cfg.Shares.Networks[name] = n
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
