package service

import (
	"context"

	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
)

// Venue is the trading venue API the services consume.
type Venue interface {
	GetMarkets(ctx context.Context, f kalshi.MarketFilter) ([]kalshi.Market, string, error)
	GetMarket(ctx context.Context, ticker string) (kalshi.Market, error)
	GetEvent(ctx context.Context, eventTicker string) (kalshi.Event, error)
	GetMarketCandlesticks(ctx context.Context, ticker string, p kalshi.CandlestickParams) ([]kalshi.Candlestick, error)
	GetOrderbook(ctx context.Context, ticker string, depth int) (kalshi.Orderbook, error)
	GetPositions(ctx context.Context, f kalshi.PositionFilter) ([]kalshi.MarketPosition, error)
	CreateOrder(ctx context.Context, p kalshi.CreateOrderParams) (kalshi.Order, error)
	CancelOrder(ctx context.Context, orderID string) (kalshi.Order, error)
	GetOrders(ctx context.Context, f kalshi.OrderFilter) ([]kalshi.Order, error)
	GetFills(ctx context.Context, f kalshi.FillFilter) ([]kalshi.Fill, error)
	GetBalance(ctx context.Context) (kalshi.Balance, error)
}

var _ Venue = (*kalshi.Client)(nil)
