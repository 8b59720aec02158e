package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
)

const (
	// DefaultCandleWindow is the look-back used when no start_ts is given.
	DefaultCandleWindow = 7 * 24 * time.Hour
	// DefaultCandleInterval is the bucket size in minutes.
	DefaultCandleInterval = 60
)

// MarketService serves read-only venue data to the gateway.
type MarketService struct {
	venue  Venue
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(venue Venue, logger *slog.Logger) *MarketService {
	return &MarketService{
		venue:  venue,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used for candlestick defaults.
func (s *MarketService) WithClock(now func() time.Time) *MarketService {
	s.now = now
	return s
}

// ListMarkets returns one page of markets ordered by volume, highest first.
func (s *MarketService) ListMarkets(ctx context.Context, f kalshi.MarketFilter) ([]kalshi.Market, string, error) {
	markets, cursor, err := s.venue.GetMarkets(ctx, f)
	if err != nil {
		return nil, "", fmt.Errorf("market_service: list markets: %w", err)
	}
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume > markets[j].Volume
	})
	return markets, cursor, nil
}

// GetMarket returns one market. A missing ticker yields an error matching
// domain.ErrNotFound.
func (s *MarketService) GetMarket(ctx context.Context, ticker string) (kalshi.Market, error) {
	m, err := s.venue.GetMarket(ctx, ticker)
	if err != nil {
		return kalshi.Market{}, fmt.Errorf("market_service: get market %q: %w", ticker, err)
	}
	return m, nil
}

// GetEvent returns an event with its markets.
func (s *MarketService) GetEvent(ctx context.Context, eventTicker string) (kalshi.Event, error) {
	ev, err := s.venue.GetEvent(ctx, eventTicker)
	if err != nil {
		return kalshi.Event{}, fmt.Errorf("market_service: get event %q: %w", eventTicker, err)
	}
	return ev, nil
}

// CandleQuery selects a candlestick range. Zero fields take defaults.
type CandleQuery struct {
	SeriesTicker   string
	StartTs        int64
	EndTs          int64
	PeriodInterval int
}

// Resolve fills in the defaults: start DefaultCandleWindow before now, end
// at now, DefaultCandleInterval-minute buckets.
func (q CandleQuery) Resolve(now time.Time) CandleQuery {
	if q.EndTs == 0 {
		q.EndTs = now.Unix()
	}
	if q.StartTs == 0 {
		q.StartTs = now.Add(-DefaultCandleWindow).Unix()
	}
	if q.PeriodInterval == 0 {
		q.PeriodInterval = DefaultCandleInterval
	}
	return q
}

// Candlesticks returns OHLC buckets for ticker.
func (s *MarketService) Candlesticks(ctx context.Context, ticker string, q CandleQuery) ([]kalshi.Candlestick, error) {
	q = q.Resolve(s.now())
	candles, err := s.venue.GetMarketCandlesticks(ctx, ticker, kalshi.CandlestickParams{
		SeriesTicker:   q.SeriesTicker,
		StartTs:        q.StartTs,
		EndTs:          q.EndTs,
		PeriodInterval: q.PeriodInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("market_service: candlesticks for %q: %w", ticker, err)
	}
	return candles, nil
}

// Orderbook returns the resting book for ticker.
func (s *MarketService) Orderbook(ctx context.Context, ticker string, depth int) (kalshi.Orderbook, error) {
	ob, err := s.venue.GetOrderbook(ctx, ticker, depth)
	if err != nil {
		return kalshi.Orderbook{}, fmt.Errorf("market_service: orderbook for %q: %w", ticker, err)
	}
	return ob, nil
}

// Positions returns the account's open long positions. Flat and short
// holdings are dropped.
func (s *MarketService) Positions(ctx context.Context, f kalshi.PositionFilter) ([]kalshi.MarketPosition, error) {
	all, err := s.venue.GetPositions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service: positions: %w", err)
	}
	active := make([]kalshi.MarketPosition, 0, len(all))
	for _, p := range all {
		if p.Position > 0 {
			active = append(active, p)
		}
	}
	return active, nil
}

// Balance returns the account's cash balance in cents.
func (s *MarketService) Balance(ctx context.Context) (kalshi.Balance, error) {
	b, err := s.venue.GetBalance(ctx)
	if err != nil {
		return kalshi.Balance{}, fmt.Errorf("market_service: balance: %w", err)
	}
	return b, nil
}
