package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bagrabridge/internal/crypto"
	"github.com/alanyoungcy/bagrabridge/internal/deposit"
	"github.com/alanyoungcy/bagrabridge/internal/mint"
	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
	"github.com/alanyoungcy/bagrabridge/internal/server"
	"github.com/alanyoungcy/bagrabridge/internal/server/handler"
	"github.com/alanyoungcy/bagrabridge/internal/service"
)

const shutdownTimeout = 15 * time.Second

// WatcherMode runs the deposit pipeline only.
func (a *App) WatcherMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watcher mode")

	owner, _, err := loadSigners(a.cfg)
	if err != nil {
		return err
	}
	watcher, err := a.buildWatcher(ctx, deps, owner)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runDepositPipeline(ctx, watcher)
	})
	return g.Wait()
}

// ServerMode runs the API gateway and, when enabled, the fill stream that
// mints later fills of resting orders.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	owner, sharesKey, err := loadSigners(a.cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startGateway(ctx, g, deps, owner, sharesKey, nil); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the deposit pipeline and the API gateway side by side. The
// gateway's dead-letter replay drives the running watcher.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	owner, sharesKey, err := loadSigners(a.cfg)
	if err != nil {
		return err
	}
	watcher, err := a.buildWatcher(ctx, deps, owner)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runDepositPipeline(ctx, watcher)
	})
	if a.cfg.RunsServer() {
		if err := a.startGateway(ctx, g, deps, owner, sharesKey, watcher); err != nil {
			return err
		}
	}
	return g.Wait()
}

// buildWatcher dials the deposit chain and assembles the watcher around the
// credit issuer.
func (a *App) buildWatcher(ctx context.Context, deps *Dependencies, owner *crypto.Signer) (*deposit.Watcher, error) {
	if owner == nil {
		return nil, errors.New("app: deposit pipeline needs the ledger owner key")
	}
	primary, err := dialPrimary(ctx, a.cfg.Chain, owner, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: deposit chain: %w", err)
	}
	a.closers = append(a.closers, primary.client.Close)

	a.logger.InfoContext(ctx, "deposit chain connected",
		slog.String("network", primary.network.DisplayName),
		slog.Int64("chain_id", primary.network.ChainID),
		slog.String("operator", owner.Address().Hex()),
	)

	wd := deposit.Deps{
		Source:      primary.client,
		Crediter:    primary.issuer,
		Processed:   deps.Processed,
		Locks:       deps.Locks,
		DeadLetters: deps.DeadLetters,
		Alerts:      deps.Notifier,
		Metrics:     deps.Metrics,
	}
	if deps.Archiver != nil {
		wd.Archive = deps.Archiver
	}
	return deposit.NewWatcher(deposit.Config{
		Token:          common.HexToAddress(a.cfg.Chain.USDCAddress),
		DepositAddress: common.HexToAddress(a.cfg.Chain.DepositAddress),
		PollInterval:   a.cfg.Chain.PollInterval.Duration,
		MaxBlockRange:  a.cfg.Chain.MaxBlockRange,
		LockTTL:        a.cfg.Chain.LockTTL.Duration,
	}, wd, a.logger), nil
}

// runDepositPipeline replays history from the configured start block when it
// is behind the head, then watches live until ctx is done.
func (a *App) runDepositPipeline(ctx context.Context, w *deposit.Watcher) error {
	if from := a.cfg.Chain.StartBlock; from > 0 {
		if err := w.SyncHistoricalTransfers(ctx, from); err != nil {
			return fmt.Errorf("app: historical sync: %w", err)
		}
	}
	err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startGateway builds the venue client, the order-to-mint bridge and the
// HTTP server and schedules them on g. replayer may be nil.
func (a *App) startGateway(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	owner, sharesKey *crypto.Signer,
	replayer *deposit.Watcher,
) error {
	venue := kalshi.NewClient(a.cfg.Kalshi.BaseURL, a.cfg.Kalshi.ApiKey, a.logger)
	if err := venue.LoadRSAPrivateKey(a.cfg.Kalshi.RsaPrivateKeyPath, a.cfg.Kalshi.RsaPrivateKeyPEM); err != nil {
		return fmt.Errorf("app: kalshi key: %w", err)
	}

	markets := service.NewMarketService(venue, a.logger)
	orders := service.NewOrderService(venue, deps.Audit, deps.Metrics, a.logger)
	if deps.RateLimiter != nil {
		orders = orders.WithRateLimiter(deps.RateLimiter)
	}

	var shares handler.ShareReader
	if a.cfg.Shares.Enabled {
		minter, closeShares, err := dialShares(ctx, a.cfg.Shares, sharesKey, deps.Metrics, a.logger)
		if err != nil {
			return fmt.Errorf("app: share network: %w", err)
		}
		a.closers = append(a.closers, closeShares)
		shares = minter

		bridge := a.newShareBridge(minter, deps)
		orders = orders.WithShareBridge(bridge, deps.Mints)

		if a.cfg.Kalshi.FillStream {
			stream := venue.NewFillStream(a.cfg.Kalshi.WsURL)
			stream.OnFill(bridge.HandleFill)
			g.Go(func() error {
				err := stream.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	var ledger handler.LedgerReader
	if a.cfg.Chain.LedgerAddress != "" {
		primary, err := dialPrimary(ctx, a.cfg.Chain, owner, a.logger)
		if err != nil {
			// balances are a convenience; the gateway still serves orders
			a.logger.WarnContext(ctx, "ledger reads disabled", slog.String("error", err.Error()))
		} else {
			a.closers = append(a.closers, primary.client.Close)
			ledger = primary.issuer
		}
	}

	var rep handler.Replayer
	if replayer != nil {
		rep = replayer
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		RatePerMinute: a.cfg.Server.RatePerMinute,
		ExposeMetrics: a.cfg.Server.Metrics,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(),
		Markets:  handler.NewMarketHandler(markets, a.logger),
		Orders:   handler.NewOrderHandler(orders, a.logger),
		Accounts: handler.NewAccountHandler(shares, ledger, a.logger),
		Admin:    handler.NewAdminHandler(deps.DeadLetters, rep, deps.Audit, a.logger),
	}, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

func (a *App) newShareBridge(minter *mint.Minter, deps *Dependencies) *service.ShareBridge {
	var archive service.MintArchiver
	if deps.Archiver != nil {
		archive = deps.Archiver
	}
	return service.NewShareBridge(minter, deps.Mints, deps.Audit, deps.Notifier, archive, deps.Metrics, a.logger)
}
