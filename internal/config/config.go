// Package config defines the top-level configuration for the bridge and
// provides validation helpers.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by BRIDGE_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Signer   SignerConfig   `toml:"signer"`
	Kalshi   KalshiConfig   `toml:"kalshi"`
	Shares   SharesConfig   `toml:"shares"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig describes the primary chain where deposits arrive and the
// balance ledger lives.
type ChainConfig struct {
	Network        string   `toml:"network"`
	RPCURL         string   `toml:"rpc_url"`
	WSURL          string   `toml:"ws_url"`
	USDCAddress    string   `toml:"usdc_address"`
	DepositAddress string   `toml:"deposit_address"`
	LedgerAddress  string   `toml:"ledger_address"`
	StartBlock     uint64   `toml:"start_block"` // 0 = start at the current head
	MaxBlockRange  uint64   `toml:"max_block_range"`
	PollInterval   duration `toml:"poll_interval"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	ConfirmRetries int      `toml:"confirm_retries"`
	LockTTL        duration `toml:"lock_ttl"`
}

// SignerConfig holds the ledger owner's key. Either a raw hex key or an
// encrypted key file must be provided.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// KalshiConfig holds Kalshi exchange API credentials.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	RsaPrivateKeyPEM  string `toml:"rsa_private_key_pem"`
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
	FillStream        bool   `toml:"fill_stream"`
}

// SharesConfig selects the secondary network that receives share mints.
type SharesConfig struct {
	Enabled    bool                          `toml:"enabled"`
	Network    string                        `toml:"network"`
	PrivateKey string                        `toml:"private_key"` // falls back to signer key
	Networks   map[string]ShareNetworkConfig `toml:"networks"`
}

// ShareNetworkConfig holds the deployed share tokens on one network.
type ShareNetworkConfig struct {
	RPCURL          string `toml:"rpc_url"`
	YesShareAddress string `toml:"yes_share_address"`
	NoShareAddress  string `toml:"no_share_address"`
}

// Selected returns the settings for the configured share network.
func (s SharesConfig) Selected() (ShareNetworkConfig, bool) {
	n, ok := s.Networks[strings.ToLower(s.Network)]
	return n, ok
}

// LedgerConfig selects the idempotency ledger backend.
type LedgerConfig struct {
	Backend    string `toml:"backend"` // memory, sqlite, postgres
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the dead-letter
// queue, cross-replica credit locks and API rate limiting.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"` // redis:// or rediss://, overrides addr
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the receipt
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	RatePerMinute int      `toml:"rate_per_minute"` // 0 disables rate limiting
	Metrics       bool     `toml:"metrics"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// defaultShareRPC holds public RPC endpoints for the share networks the
// bridge ships profiles for.
var defaultShareRPC = map[string]string{
	"chiliz_spicy":     "https://spicy-rpc.chiliz.com/",
	"zircuit_garfield": "https://garfield-testnet.zircuit.com",
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Network:        "arbitrum",
			RPCURL:         "https://arb1.arbitrum.io/rpc",
			USDCAddress:    "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
			DepositAddress: "0xac266f88d6889e98209eba3cbc3ac42a425637d1",
			MaxBlockRange:  10_000,
			PollInterval:   duration{4 * time.Second},
			ConfirmTimeout: duration{2 * time.Minute},
			ConfirmRetries: 3,
			LockTTL:        duration{5 * time.Minute},
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
		},
		Shares: SharesConfig{
			Enabled: false,
			Network: "chiliz_spicy",
			Networks: map[string]ShareNetworkConfig{
				"chiliz_spicy":     {RPCURL: defaultShareRPC["chiliz_spicy"]},
				"zircuit_garfield": {RPCURL: defaultShareRPC["zircuit_garfield"]},
			},
		},
		Ledger: LedgerConfig{
			Backend:    "memory",
			SQLitePath: "bridge.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bridge-receipts",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        3001,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Metrics:     true,
		},
		Notify: NotifyConfig{
			Events: []string{"credit_failed", "mint_failed", "mint_unconfirmed", "mint_confirmed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watcher": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// RunsWatcher reports whether the deposit pipeline runs in the configured mode.
func (c *Config) RunsWatcher() bool {
	m := strings.ToLower(c.Mode)
	return m == "watcher" || m == "full"
}

// RunsServer reports whether the API gateway runs in the configured mode.
func (c *Config) RunsServer() bool {
	m := strings.ToLower(c.Mode)
	return (m == "server" || m == "full") && c.Server.Enabled
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watcher, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Signer: the ledger owner key is needed to credit deposits and to mint.
	needsSigner := c.RunsWatcher() || c.Shares.Enabled
	if needsSigner {
		if c.Signer.PrivateKey == "" && c.Signer.EncryptedKeyPath == "" {
			errs = append(errs, "signer: either private_key or encrypted_key_path must be set")
		}
		if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
			errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
		}
	}

	if c.RunsWatcher() {
		if c.Chain.RPCURL == "" && c.Chain.WSURL == "" {
			errs = append(errs, "chain: rpc_url or ws_url must be set")
		}
		checkAddress(&errs, "chain: usdc_address", c.Chain.USDCAddress)
		checkAddress(&errs, "chain: deposit_address", c.Chain.DepositAddress)
		checkAddress(&errs, "chain: ledger_address", c.Chain.LedgerAddress)
		if c.Chain.MaxBlockRange == 0 {
			errs = append(errs, "chain: max_block_range must be > 0")
		}
		if c.Chain.PollInterval.Duration <= 0 {
			errs = append(errs, "chain: poll_interval must be > 0")
		}
		if c.Chain.ConfirmTimeout.Duration <= 0 {
			errs = append(errs, "chain: confirm_timeout must be > 0")
		}
		if c.Chain.ConfirmRetries < 0 {
			errs = append(errs, "chain: confirm_retries must be >= 0")
		}
	}

	// Kalshi is required by the API gateway.
	if c.RunsServer() {
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" && c.Kalshi.RsaPrivateKeyPEM == "" {
			errs = append(errs, "kalshi: either rsa_private_key_path or rsa_private_key_pem is required")
		}
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
		if c.Kalshi.FillStream && c.Kalshi.WsURL == "" {
			errs = append(errs, "kalshi: ws_url must not be empty when fill_stream is enabled")
		}
	}

	if c.Shares.Enabled {
		sel, ok := c.Shares.Selected()
		if !ok {
			errs = append(errs, fmt.Sprintf("shares: network %q has no entry under shares.networks", c.Shares.Network))
		} else {
			if sel.RPCURL == "" {
				errs = append(errs, "shares: rpc_url must be set for network "+c.Shares.Network)
			}
			checkAddress(&errs, "shares: yes_share_address", sel.YesShareAddress)
			checkAddress(&errs, "shares: no_share_address", sel.NoShareAddress)
		}
	}

	backend := strings.ToLower(c.Ledger.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, sqlite, postgres)", c.Ledger.Backend))
	}
	if backend == "sqlite" && c.Ledger.SQLitePath == "" {
		errs = append(errs, "ledger: sqlite_path must be set for the sqlite backend")
	}

	if backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" && c.Redis.URL == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Server.RatePerMinute > 0 && !c.Redis.Enabled {
		errs = append(errs, "server: rate_per_minute requires redis.enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(errs *[]string, field, v string) {
	if v == "" {
		*errs = append(*errs, field+" is required")
		return
	}
	if !addressRe.MatchString(v) {
		*errs = append(*errs, fmt.Sprintf("%s %q is not a 0x-prefixed 20-byte hex address", field, v))
	}
}
