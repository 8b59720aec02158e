package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
	"github.com/alanyoungcy/bagrabridge/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer.
type MarketService interface {
	ListMarkets(ctx context.Context, f kalshi.MarketFilter) ([]kalshi.Market, string, error)
	GetMarket(ctx context.Context, ticker string) (kalshi.Market, error)
	GetEvent(ctx context.Context, eventTicker string) (kalshi.Event, error)
	Candlesticks(ctx context.Context, ticker string, q service.CandleQuery) ([]kalshi.Candlestick, error)
	Orderbook(ctx context.Context, ticker string, depth int) (kalshi.Orderbook, error)
	Positions(ctx context.Context, f kalshi.PositionFilter) ([]kalshi.MarketPosition, error)
	Balance(ctx context.Context) (kalshi.Balance, error)
}

// MarketHandler serves market and portfolio reads proxied from the venue.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger.With(slog.String("handler", "market")),
	}
}

// ListMarkets returns one page of markets, highest volume first.
// GET /api/markets?limit&cursor&event_ticker&series_ticker&max_close_ts&min_close_ts&status&tickers
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	markets, cursor, err := h.markets.ListMarkets(r.Context(), kalshi.MarketFilter{
		Limit:        int(queryInt(r, "limit")),
		Cursor:       q.Get("cursor"),
		EventTicker:  q.Get("event_ticker"),
		SeriesTicker: q.Get("series_ticker"),
		Status:       q.Get("status"),
		Tickers:      queryList(r, "tickers"),
		MinCloseTs:   queryInt(r, "min_close_ts"),
		MaxCloseTs:   queryInt(r, "max_close_ts"),
	})
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch markets", err)
		return
	}
	if markets == nil {
		markets = []kalshi.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets, "cursor": cursor})
}

// GetMarket returns a single market.
// GET /api/markets/{ticker}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), r.PathValue("ticker"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Market not found")
		return
	}
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch market", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m})
}

// Candlesticks returns OHLC buckets, defaulting to the last 7 days in
// 60-minute buckets.
// GET /api/markets/{ticker}/candlesticks?start_ts&end_ts&period_interval&series_ticker
func (h *MarketHandler) Candlesticks(w http.ResponseWriter, r *http.Request) {
	candles, err := h.markets.Candlesticks(r.Context(), r.PathValue("ticker"), service.CandleQuery{
		SeriesTicker:   r.URL.Query().Get("series_ticker"),
		StartTs:        queryInt(r, "start_ts"),
		EndTs:          queryInt(r, "end_ts"),
		PeriodInterval: int(queryInt(r, "period_interval")),
	})
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch candlesticks", err)
		return
	}
	if candles == nil {
		candles = []kalshi.Candlestick{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candlesticks": candles})
}

// Orderbook returns resting bids on both sides.
// GET /api/markets/{ticker}/orderbook?depth
func (h *MarketHandler) Orderbook(w http.ResponseWriter, r *http.Request) {
	ob, err := h.markets.Orderbook(r.Context(), r.PathValue("ticker"), int(queryInt(r, "depth")))
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch orderbook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderbook": ob})
}

// GetEvent returns an event and its markets.
// GET /api/events/{ticker}
func (h *MarketHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.markets.GetEvent(r.Context(), r.PathValue("ticker"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": ev})
}

// ListPositions returns positions holding at least one contract.
// GET /api/positions?ticker&event_ticker&limit&cursor
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	positions, err := h.markets.Positions(r.Context(), kalshi.PositionFilter{
		Ticker:      q.Get("ticker"),
		EventTicker: q.Get("event_ticker"),
		Limit:       int(queryInt(r, "limit")),
		Cursor:      q.Get("cursor"),
	})
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// Balance returns the venue cash balance in cents.
// GET /api/balance
func (h *MarketHandler) Balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.markets.Balance(r.Context())
	if err != nil {
		writeFailure(w, h.logger, r, "Failed to fetch balance", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
