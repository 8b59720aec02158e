package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
	"github.com/alanyoungcy/bagrabridge/internal/platform/kalshi"
)

// MarketOrderPrice is the limit attached to market orders so they cross
// the whole book on the chosen side.
const MarketOrderPrice = 99

// Venue write limit for the basic API tier.
const (
	orderRateLimit  = 10
	orderRateWindow = time.Second
)

// OrderRequest is an order as submitted by the web client. Recipient, when
// set, receives share tokens for the filled quantity of a buy.
type OrderRequest struct {
	Ticker            string `json:"ticker" validate:"required"`
	Action            string `json:"action" validate:"required,oneof=buy sell"`
	Side              string `json:"side" validate:"required,oneof=yes no"`
	Count             int64  `json:"count" validate:"required,gt=0"`
	Type              string `json:"type" validate:"required,oneof=market limit"`
	YesPrice          *int64 `json:"yesPrice,omitempty" validate:"omitempty,min=1,max=99"`
	NoPrice           *int64 `json:"noPrice,omitempty" validate:"omitempty,min=1,max=99"`
	ExpirationTs      *int64 `json:"expirationTs,omitempty"`
	SellPositionFloor *int64 `json:"sellPositionFloor,omitempty"`
	BuyMaxCost        *int64 `json:"buyMaxCost,omitempty"`
	Recipient         string `json:"recipient,omitempty" validate:"omitempty,eth_addr"`
}

// OrderParams converts the request to venue parameters. Market orders are
// priced at MarketOrderPrice on the chosen side and carry no price on the
// other: a yesPrice or noPrice sent with a market order is discarded, on
// both sides. Limit orders pass both prices through unchanged.
func (r OrderRequest) OrderParams() kalshi.CreateOrderParams {
	p := kalshi.CreateOrderParams{
		Ticker:            r.Ticker,
		Action:            r.Action,
		Side:              r.Side,
		Type:              r.Type,
		Count:             r.Count,
		YesPrice:          r.YesPrice,
		NoPrice:           r.NoPrice,
		ExpirationTs:      r.ExpirationTs,
		SellPositionFloor: r.SellPositionFloor,
		BuyMaxCost:        r.BuyMaxCost,
	}
	if r.Type == "market" {
		price := int64(MarketOrderPrice)
		if r.Side == string(domain.SideYes) {
			p.YesPrice, p.NoPrice = &price, nil
		} else {
			p.NoPrice, p.YesPrice = &price, nil
		}
	}
	return p
}

// OrderResult is the venue order plus the share mint it triggered, if any.
type OrderResult struct {
	Order kalshi.Order `json:"order"`
	Mint  *MintOutcome `json:"mint,omitempty"`
}

// OrderService places venue orders and hands filled buys to the share
// bridge.
type OrderService struct {
	venue   Venue
	shares  *ShareBridge
	ledger  domain.MintLedger
	limiter domain.RateLimiter
	audit   domain.AuditStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewOrderService creates an OrderService. audit may be nil.
func NewOrderService(venue Venue, audit domain.AuditStore, m *metrics.Metrics, logger *slog.Logger) *OrderService {
	return &OrderService{
		venue:   venue,
		audit:   audit,
		metrics: m,
		logger:  logger,
	}
}

// WithShareBridge enables share minting for orders that name a recipient.
// ledger holds pending orders whose later fills still need minting.
func (s *OrderService) WithShareBridge(b *ShareBridge, ledger domain.MintLedger) *OrderService {
	s.shares = b
	s.ledger = ledger
	return s
}

// WithRateLimiter throttles order submission across replicas.
func (s *OrderService) WithRateLimiter(l domain.RateLimiter) *OrderService {
	s.limiter = l
	return s
}

// CreateOrder submits req to the venue. For a buy with a recipient, the
// immediately filled quantity is minted under key
// "order:<order id>:<filled>" and any resting remainder is registered for
// the fill stream. Mint failures are reported in the result, not as an
// error; venue errors are returned wrapped and keep their *kalshi.APIError.
func (s *OrderService) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "venue:orders", orderRateLimit, orderRateWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "order_service: rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return OrderResult{}, fmt.Errorf("order_service: create order: %w", domain.ErrRateLimited)
		}
	}

	order, err := s.venue.CreateOrder(ctx, req.OrderParams())
	if err != nil {
		s.metrics.VenueOrders.WithLabelValues(req.Type, "error").Inc()
		return OrderResult{}, fmt.Errorf("order_service: create order: %w", err)
	}
	s.metrics.VenueOrders.WithLabelValues(req.Type, order.Status).Inc()

	s.logger.InfoContext(ctx, "order_service: order created",
		slog.String("order_id", order.OrderID),
		slog.String("ticker", order.Ticker),
		slog.String("status", order.Status),
		slog.Int64("filled", order.Filled()),
	)
	s.auditLog(ctx, "order_created", map[string]any{
		"order_id":  order.OrderID,
		"ticker":    req.Ticker,
		"action":    req.Action,
		"side":      req.Side,
		"type":      req.Type,
		"count":     req.Count,
		"filled":    order.Filled(),
		"recipient": req.Recipient,
	})

	res := OrderResult{Order: order}
	if s.shares == nil || req.Recipient == "" || req.Action != "buy" {
		return res, nil
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return res, nil
	}
	recipient := common.HexToAddress(req.Recipient)

	if order.RemainingCount > 0 && order.Status == "resting" {
		err := s.ledger.SavePending(ctx, domain.PendingOrder{
			OrderID:   order.OrderID,
			Ticker:    order.Ticker,
			Recipient: recipient,
			Side:      side,
			Remaining: order.RemainingCount,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "order_service: register pending mint",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	filled := order.Filled()
	if filled <= 0 {
		res.Mint = &MintOutcome{Status: domain.MintStatusPending, PendingCount: order.RemainingCount}
		return res, nil
	}

	out := s.shares.Mint(ctx, domain.MintIntent{
		Key:       fmt.Sprintf("order:%s:%d", order.OrderID, filled),
		OrderID:   order.OrderID,
		Ticker:    order.Ticker,
		Recipient: recipient,
		Side:      side,
		Count:     filled,
	})
	if order.Status == "resting" {
		out.PendingCount = order.RemainingCount
	}
	res.Mint = &out
	return res, nil
}

// CancelOrder cancels a resting order. Pending mints for it are left in
// place; fills that raced the cancel are still minted.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (kalshi.Order, error) {
	order, err := s.venue.CancelOrder(ctx, orderID)
	if err != nil {
		return kalshi.Order{}, fmt.Errorf("order_service: cancel order %q: %w", orderID, err)
	}
	s.auditLog(ctx, "order_canceled", map[string]any{"order_id": orderID})
	return order, nil
}

// Orders lists the account's orders.
func (s *OrderService) Orders(ctx context.Context, f kalshi.OrderFilter) ([]kalshi.Order, error) {
	orders, err := s.venue.GetOrders(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("order_service: list orders: %w", err)
	}
	return orders, nil
}

// Fills lists the account's fills.
func (s *OrderService) Fills(ctx context.Context, f kalshi.FillFilter) ([]kalshi.Fill, error) {
	fills, err := s.venue.GetFills(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("order_service: list fills: %w", err)
	}
	return fills, nil
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed", slog.String("error", err.Error()))
	}
}
