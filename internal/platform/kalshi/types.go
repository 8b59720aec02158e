package kalshi

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Kalshi REST DTOs
// --------------------------------------------------------------------------

// Market represents a market as returned by the Kalshi REST API.
type Market struct {
	Ticker          string `json:"ticker"`
	EventTicker     string `json:"event_ticker"`
	MarketType      string `json:"market_type,omitempty"`
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle,omitempty"`
	YesSubTitle     string `json:"yes_sub_title,omitempty"`
	NoSubTitle      string `json:"no_sub_title,omitempty"`
	Status          string `json:"status"` // "open", "closed", "settled"
	YesBid          int64  `json:"yes_bid"`
	YesAsk          int64  `json:"yes_ask"`
	NoBid           int64  `json:"no_bid"`
	NoAsk           int64  `json:"no_ask"`
	LastPrice       int64  `json:"last_price"`
	PreviousPrice   int64  `json:"previous_price,omitempty"`
	Volume          int64  `json:"volume"`
	Volume24H       int64  `json:"volume_24h"`
	OpenInterest    int64  `json:"open_interest"`
	Liquidity       int64  `json:"liquidity,omitempty"`
	Category        string `json:"category,omitempty"`
	Result          string `json:"result,omitempty"` // "yes", "no", "" (unsettled)
	RulesPrimary    string `json:"rules_primary,omitempty"`
	OpenTime        string `json:"open_time,omitempty"`
	CloseTime       string `json:"close_time,omitempty"`
	ExpirationTime  string `json:"expiration_time,omitempty"`
	CanCloseEarly   bool   `json:"can_close_early,omitempty"`
	SettlementTimer int64  `json:"settlement_timer_seconds,omitempty"`
}

// Event groups related markets under one question.
type Event struct {
	EventTicker       string   `json:"event_ticker"`
	SeriesTicker      string   `json:"series_ticker"`
	Title             string   `json:"title"`
	SubTitle          string   `json:"sub_title,omitempty"`
	Category          string   `json:"category,omitempty"`
	MutuallyExclusive bool     `json:"mutually_exclusive"`
	StrikeDate        string   `json:"strike_date,omitempty"`
	Markets           []Market `json:"markets,omitempty"`
}

// OHLC is one open/high/low/close series inside a candlestick. Kalshi sends
// null for periods without trades, hence the pointers.
type OHLC struct {
	Open     *int64 `json:"open"`
	High     *int64 `json:"high"`
	Low      *int64 `json:"low"`
	Close    *int64 `json:"close"`
	Mean     *int64 `json:"mean,omitempty"`
	Previous *int64 `json:"previous,omitempty"`
}

// Candlestick is one aggregation period for a market.
type Candlestick struct {
	EndPeriodTs  int64 `json:"end_period_ts"`
	YesBid       OHLC  `json:"yes_bid"`
	YesAsk       OHLC  `json:"yes_ask"`
	Price        OHLC  `json:"price"`
	Volume       int64 `json:"volume"`
	OpenInterest int64 `json:"open_interest"`
}

// Orderbook holds resting bids on both sides of a market.
type Orderbook struct {
	Ticker string       `json:"ticker"`
	Yes    []PriceLevel `json:"yes"`
	No     []PriceLevel `json:"no"`
}

// PriceLevel is a single price+quantity entry in the orderbook. The API
// encodes it as a two-element array [price, quantity].
type PriceLevel struct {
	Price    int64 `json:"price"`    // in cents (1-99)
	Quantity int64 `json:"quantity"` // number of contracts
}

// UnmarshalJSON accepts the [price, quantity] wire form.
func (p *PriceLevel) UnmarshalJSON(b []byte) error {
	var pair []int64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("kalshi: price level: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("kalshi: price level: expected 2 values, got %d", len(pair))
	}
	p.Price, p.Quantity = pair[0], pair[1]
	return nil
}

// MarketPosition is the caller's holding in one market.
type MarketPosition struct {
	Ticker             string `json:"ticker"`
	TotalTraded        int64  `json:"total_traded"`
	Position           int64  `json:"position"` // >0 long YES, <0 long NO
	MarketExposure     int64  `json:"market_exposure"`
	RealizedPnl        int64  `json:"realized_pnl"`
	RestingOrdersCount int64  `json:"resting_orders_count"`
	FeesPaid           int64  `json:"fees_paid"`
	LastUpdatedTs      string `json:"last_updated_ts,omitempty"`
}

// CreateOrderParams is the body of POST /portfolio/orders.
type CreateOrderParams struct {
	Ticker            string `json:"ticker"`
	Action            string `json:"action"` // "buy" or "sell"
	Side              string `json:"side"`   // "yes" or "no"
	Type              string `json:"type"`   // "market" or "limit"
	Count             int64  `json:"count"`
	YesPrice          *int64 `json:"yes_price,omitempty"` // cents (1-99)
	NoPrice           *int64 `json:"no_price,omitempty"`
	ExpirationTs      *int64 `json:"expiration_ts,omitempty"`
	SellPositionFloor *int64 `json:"sell_position_floor,omitempty"`
	BuyMaxCost        *int64 `json:"buy_max_cost,omitempty"` // cents
	ClientOrderID     string `json:"client_order_id,omitempty"`
}

// Order is an order as reported by the venue.
type Order struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id,omitempty"`
	ClientOrderID  string `json:"client_order_id,omitempty"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	CreatedTime    string `json:"created_time,omitempty"`
	ExpirationTime string `json:"expiration_time,omitempty"`
	RemainingCount int64  `json:"remaining_count"`
	FillCount      int64  `json:"fill_count,omitempty"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost,omitempty"`
	MakerFillCount int64  `json:"maker_fill_count"`
	QueuePosition  int64  `json:"queue_position,omitempty"`
	LastUpdateTime string `json:"last_update_time,omitempty"`
}

// Filled returns the number of contracts matched so far. Newer API versions
// report fill_count directly; older ones split it into taker and maker.
func (o Order) Filled() int64 {
	if o.FillCount > 0 {
		return o.FillCount
	}
	return o.TakerFillCount + o.MakerFillCount
}

// Fill is one execution against one of the caller's orders.
type Fill struct {
	TradeID     string `json:"trade_id"`
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Action      string `json:"action"`
	Count       int64  `json:"count"`
	YesPrice    int64  `json:"yes_price"`
	NoPrice     int64  `json:"no_price"`
	IsTaker     bool   `json:"is_taker"`
	CreatedTime string `json:"created_time,omitempty"`
}

// Balance is the caller's available cash.
type Balance struct {
	Balance        int64 `json:"balance"` // cents
	PortfolioValue int64 `json:"portfolio_value,omitempty"`
}

// --------------------------------------------------------------------------
// Query filters
// --------------------------------------------------------------------------

// MarketFilter narrows GET /markets.
type MarketFilter struct {
	Limit        int
	Cursor       string
	EventTicker  string
	SeriesTicker string
	Status       string
	Tickers      []string
	MinCloseTs   int64
	MaxCloseTs   int64
}

// PositionFilter narrows GET /portfolio/positions.
type PositionFilter struct {
	Ticker      string
	EventTicker string
	CountFilter string // e.g. "position", "total_traded"
	Limit       int
	Cursor      string
}

// OrderFilter narrows GET /portfolio/orders.
type OrderFilter struct {
	Ticker      string
	EventTicker string
	MinTs       int64
	MaxTs       int64
	Status      string
	Limit       int
	Cursor      string
}

// FillFilter narrows GET /portfolio/fills.
type FillFilter struct {
	Ticker  string
	OrderID string
	MinTs   int64
	MaxTs   int64
	Limit   int
	Cursor  string
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// wsMessage is the envelope for Kalshi WebSocket messages.
type wsMessage struct {
	Type string          `json:"type"` // "fill", "subscribed", "error", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
	ID   int64           `json:"id,omitempty"`
}

// wsFill is the payload of a "fill" channel message.
type wsFill struct {
	TradeID      string `json:"trade_id"`
	OrderID      string `json:"order_id"`
	MarketTicker string `json:"market_ticker"`
	IsTaker      bool   `json:"is_taker"`
	Side         string `json:"side"`
	YesPrice     int64  `json:"yes_price"`
	Count        int64  `json:"count"`
	Action       string `json:"action"`
	Ts           int64  `json:"ts"`
}

func (f wsFill) toFill() Fill {
	return Fill{
		TradeID:  f.TradeID,
		OrderID:  f.OrderID,
		Ticker:   f.MarketTicker,
		Side:     f.Side,
		Action:   f.Action,
		Count:    f.Count,
		YesPrice: f.YesPrice,
		NoPrice:  100 - f.YesPrice,
		IsTaker:  f.IsTaker,
	}
}

// wsCommand is sent to subscribe to Kalshi WebSocket channels.
type wsCommand struct {
	ID     int64          `json:"id"`
	Cmd    string         `json:"cmd"` // "subscribe" or "unsubscribe"
	Params wsSubscription `json:"params"`
}

type wsSubscription struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers,omitempty"`
}
