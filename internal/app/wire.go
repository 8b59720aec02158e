package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/bagrabridge/internal/blob/s3"
	"github.com/alanyoungcy/bagrabridge/internal/cache/redis"
	"github.com/alanyoungcy/bagrabridge/internal/chain"
	"github.com/alanyoungcy/bagrabridge/internal/config"
	"github.com/alanyoungcy/bagrabridge/internal/credit"
	"github.com/alanyoungcy/bagrabridge/internal/crypto"
	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
	"github.com/alanyoungcy/bagrabridge/internal/mint"
	"github.com/alanyoungcy/bagrabridge/internal/notify"
	"github.com/alanyoungcy/bagrabridge/internal/store/memory"
	"github.com/alanyoungcy/bagrabridge/internal/store/postgres"
	"github.com/alanyoungcy/bagrabridge/internal/store/sqlite"
)

// Dependencies bundles what the run modes need. It is built by Wire and
// torn down by the cleanup function Wire returns.
type Dependencies struct {
	// Idempotency ledgers
	Processed domain.ProcessedStore
	Mints     domain.MintLedger
	Audit     domain.AuditStore

	// Coordination
	DeadLetters domain.DeadLetterQueue
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter // nil without redis

	// Receipt archive, nil when s3 is disabled
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Wire builds the storage, coordination and notification layers selected by
// cfg. Chains are dialled separately by the modes that need them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps := &Dependencies{
		Metrics:  metrics.NewMetrics(reg),
		Notifier: notify.FromConfig(cfg.Notify, logger),
	}

	// --- Ledger backend ---
	switch backend := strings.ToLower(cfg.Ledger.Backend); backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pg.Pool()
		deps.Processed = postgres.NewCreditStore(pool)
		deps.Mints = postgres.NewMintLedger(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	case "sqlite":
		db, err := sqlite.Open(cfg.Ledger.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Processed = db.Credits()
		deps.Mints = db.Mints()
		deps.Audit = db.Audit()
	default:
		logger.Warn("using in-memory ledgers; processed deposits and mints are lost on restart")
		deps.Processed = memory.NewProcessedStore()
		deps.Mints = memory.NewMintLedger()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.DeadLetters = redis.NewDeadLetterQueue(rc, "")
		deps.Locks = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
	} else {
		deps.DeadLetters = memory.NewDeadLetterQueue()
		deps.Locks = memory.NewLocks()
	}

	// --- S3 receipt archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := sc.Health(ctx); err != nil {
			logger.Warn("receipt bucket not reachable yet", slog.String("error", err.Error()))
		}
		bucket := s3blob.NewBucket(sc)
		deps.Archiver = s3blob.NewArchiver(bucket, bucket)
	}

	logger.Info("dependencies wired",
		slog.String("ledger", cfg.Ledger.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	return deps, cleanup, nil
}

// primaryChain is the chain deposits arrive on and the ledger lives on.
type primaryChain struct {
	network chain.Network
	client  *ethclient.Client
	issuer  *credit.Issuer
}

// dialPrimary connects to the deposit chain and binds the ledger. signer may
// be nil, in which case the ledger is read-only.
func dialPrimary(ctx context.Context, cfg config.ChainConfig, signer *crypto.Signer, logger *slog.Logger) (*primaryChain, error) {
	network, err := chain.LookupNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	network = network.WithRPC(cfg.RPCURL)

	// Prefer the websocket endpoint so the watcher can subscribe to logs.
	url := network.RPCURL
	if cfg.WSURL != "" {
		url = cfg.WSURL
	}
	client, err := chain.Dial(ctx, url, network)
	if err != nil {
		return nil, err
	}

	var opts chain.OptsFunc
	if signer != nil {
		opts = signer.TransactorFor(network.ChainID)
	}
	ledger := chain.NewTransactor(client, opts).Bind(common.HexToAddress(cfg.LedgerAddress), chain.LedgerABI)
	confirmer := chain.NewConfirmer(client, chain.ConfirmerConfig{
		Timeout: cfg.ConfirmTimeout.Duration,
		Retries: cfg.ConfirmRetries,
	}, logger)

	return &primaryChain{
		network: network,
		client:  client,
		issuer:  credit.NewIssuer(ledger, confirmer, logger),
	}, nil
}

// dialShares connects to the share network and binds both outcome tokens.
func dialShares(ctx context.Context, cfg config.SharesConfig, signer *crypto.Signer, m *metrics.Metrics, logger *slog.Logger) (*mint.Minter, func(), error) {
	sel, ok := cfg.Selected()
	if !ok {
		return nil, nil, fmt.Errorf("shares: %w: %q", domain.ErrUnknownNetwork, cfg.Network)
	}
	network, err := chain.LookupNetwork(cfg.Network)
	if err != nil {
		return nil, nil, err
	}
	network = network.WithRPC(sel.RPCURL)

	client, err := chain.Dial(ctx, network.RPCURL, network)
	if err != nil {
		return nil, nil, err
	}

	tx := chain.NewTransactor(client, signer.TransactorFor(network.ChainID))
	yes := tx.Bind(common.HexToAddress(sel.YesShareAddress), chain.ShareABI)
	no := tx.Bind(common.HexToAddress(sel.NoShareAddress), chain.ShareABI)
	confirmer := chain.NewConfirmer(client, chain.ConfirmerConfig{}, logger)

	return mint.NewMinter(network, yes, no, confirmer, m, logger), client.Close, nil
}

// loadSigners resolves the ledger owner key and, when configured separately,
// the share minting key.
func loadSigners(cfg *config.Config) (owner, shares *crypto.Signer, err error) {
	if cfg.Signer.PrivateKey != "" || cfg.Signer.EncryptedKeyPath != "" {
		owner, err = crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Signer.PrivateKey,
			EncryptedKeyPath: cfg.Signer.EncryptedKeyPath,
			KeyPassword:      cfg.Signer.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("signer: %w", err)
		}
	}
	shares = owner
	if cfg.Shares.PrivateKey != "" {
		shares, err = crypto.NewSigner(cfg.Shares.PrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("shares signer: %w", err)
		}
	}
	return owner, shares, nil
}
