// Package kalshi is a signed REST and WebSocket client for the Kalshi
// exchange API.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is the REST client for the Kalshi exchange API.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier.
func NewClient(baseURL, apiKeyID string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now:    time.Now,
		logger: logger.With(slog.String("component", "kalshi")),
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	key, err := parseRSAKey(pemBytes)
	if err != nil {
		return err
	}
	c.privateKey = key
	return nil
}

// LoadRSAPrivateKey reads the signing key from an inline PEM string or, when
// that is empty, from the file at path.
func (c *Client) LoadRSAPrivateKey(path, inlinePEM string) error {
	if inlinePEM != "" {
		// Env files often carry the PEM with escaped newlines.
		return c.SetRSAPrivateKey([]byte(strings.ReplaceAll(inlinePEM, `\n`, "\n")))
	}
	if path == "" {
		return errors.New("kalshi: no private key path or PEM configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("kalshi: read private key: %w", err)
	}
	return c.SetRSAPrivateKey(data)
}

func parseRSAKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}

// GetMarkets returns one page of markets matching f.
func (c *Client) GetMarkets(ctx context.Context, f MarketFilter) ([]Market, string, error) {
	q := query{}
	q.num("limit", int64(f.Limit))
	q.str("cursor", f.Cursor)
	q.str("event_ticker", f.EventTicker)
	q.str("series_ticker", f.SeriesTicker)
	q.str("status", f.Status)
	q.str("tickers", strings.Join(f.Tickers, ","))
	q.num("min_close_ts", f.MinCloseTs)
	q.num("max_close_ts", f.MaxCloseTs)

	var resp struct {
		Markets []Market `json:"markets"`
		Cursor  string   `json:"cursor"`
	}
	if err := c.get(ctx, "/markets", q, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}
	return resp.Markets, resp.Cursor, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (Market, error) {
	var resp struct {
		Market Market `json:"market"`
	}
	if err := c.get(ctx, "/markets/"+url.PathEscape(ticker), nil, &resp); err != nil {
		return Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}
	return resp.Market, nil
}

// GetEvent returns an event together with its nested markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (Event, error) {
	q := query{}
	q.str("with_nested_markets", "true")

	var resp struct {
		Event   Event    `json:"event"`
		Markets []Market `json:"markets"`
	}
	if err := c.get(ctx, "/events/"+url.PathEscape(eventTicker), q, &resp); err != nil {
		return Event{}, fmt.Errorf("kalshi: get event %s: %w", eventTicker, err)
	}
	if len(resp.Event.Markets) == 0 {
		resp.Event.Markets = resp.Markets
	}
	return resp.Event, nil
}

// CandlestickParams selects the window and resolution for candlesticks.
// SeriesTicker is resolved from the market when left empty.
type CandlestickParams struct {
	SeriesTicker   string
	StartTs        int64
	EndTs          int64
	PeriodInterval int // minutes: 1, 60 or 1440
}

// GetMarketCandlesticks returns OHLC candles for ticker.
func (c *Client) GetMarketCandlesticks(ctx context.Context, ticker string, p CandlestickParams) ([]Candlestick, error) {
	series := p.SeriesTicker
	if series == "" {
		var err error
		if series, err = c.seriesFor(ctx, ticker); err != nil {
			return nil, err
		}
	}

	q := query{}
	q.num("start_ts", p.StartTs)
	q.num("end_ts", p.EndTs)
	q.num("period_interval", int64(p.PeriodInterval))

	path := fmt.Sprintf("/series/%s/markets/%s/candlesticks", url.PathEscape(series), url.PathEscape(ticker))
	var resp struct {
		Candlesticks []Candlestick `json:"candlesticks"`
	}
	if err := c.get(ctx, path, q, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: get candlesticks %s: %w", ticker, err)
	}
	return resp.Candlesticks, nil
}

// seriesFor finds the series a market belongs to via its event. When the
// event does not name a series, the event ticker is used.
func (c *Client) seriesFor(ctx context.Context, ticker string) (string, error) {
	m, err := c.GetMarket(ctx, ticker)
	if err != nil {
		return "", err
	}
	if m.EventTicker == "" {
		return "", fmt.Errorf("kalshi: market %s has no event ticker", ticker)
	}
	ev, err := c.GetEvent(ctx, m.EventTicker)
	if err != nil {
		return "", err
	}
	if ev.SeriesTicker != "" {
		return ev.SeriesTicker, nil
	}
	return m.EventTicker, nil
}

// GetOrderbook returns the current orderbook for the given market ticker.
// depth <= 0 returns the full book.
func (c *Client) GetOrderbook(ctx context.Context, ticker string, depth int) (Orderbook, error) {
	q := query{}
	q.num("depth", int64(depth))

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := c.get(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", q, &resp); err != nil {
		return Orderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}
	resp.Orderbook.Ticker = ticker
	return resp.Orderbook, nil
}

// GetPositions returns the caller's market positions.
func (c *Client) GetPositions(ctx context.Context, f PositionFilter) ([]MarketPosition, error) {
	q := query{}
	q.str("ticker", f.Ticker)
	q.str("event_ticker", f.EventTicker)
	q.str("count_filter", f.CountFilter)
	q.num("limit", int64(f.Limit))
	q.str("cursor", f.Cursor)

	var resp struct {
		MarketPositions []MarketPosition `json:"market_positions"`
	}
	if err := c.get(ctx, "/portfolio/positions", q, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: get positions: %w", err)
	}
	return resp.MarketPositions, nil
}

// CreateOrder submits a new order on the Kalshi exchange.
func (c *Client) CreateOrder(ctx context.Context, p CreateOrderParams) (Order, error) {
	body, err := c.do(ctx, http.MethodPost, "/portfolio/orders", nil, p)
	if err != nil {
		return Order{}, fmt.Errorf("kalshi: create order: %w", err)
	}
	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	c.logger.Info("order created",
		slog.String("order_id", resp.Order.OrderID),
		slog.String("ticker", resp.Order.Ticker),
		slog.String("status", resp.Order.Status),
		slog.Int64("filled", resp.Order.Filled()),
	)
	return resp.Order, nil
}

// CancelOrder cancels an existing order by its ID and returns its final state.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (Order, error) {
	body, err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return Order{}, fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	var resp struct {
		Order Order `json:"order"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return Order{}, fmt.Errorf("kalshi: decode cancel response: %w", err)
		}
	}
	return resp.Order, nil
}

// GetOrders lists the caller's orders.
func (c *Client) GetOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	q := query{}
	q.str("ticker", f.Ticker)
	q.str("event_ticker", f.EventTicker)
	q.num("min_ts", f.MinTs)
	q.num("max_ts", f.MaxTs)
	q.str("status", f.Status)
	q.num("limit", int64(f.Limit))
	q.str("cursor", f.Cursor)

	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.get(ctx, "/portfolio/orders", q, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: get orders: %w", err)
	}
	return resp.Orders, nil
}

// GetFills lists executions against the caller's orders.
func (c *Client) GetFills(ctx context.Context, f FillFilter) ([]Fill, error) {
	q := query{}
	q.str("ticker", f.Ticker)
	q.str("order_id", f.OrderID)
	q.num("min_ts", f.MinTs)
	q.num("max_ts", f.MaxTs)
	q.num("limit", int64(f.Limit))
	q.str("cursor", f.Cursor)

	var resp struct {
		Fills []Fill `json:"fills"`
	}
	if err := c.get(ctx, "/portfolio/fills", q, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: get fills: %w", err)
	}
	return resp.Fills, nil
}

// GetBalance returns the caller's available balance in cents.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var resp Balance
	if err := c.get(ctx, "/portfolio/balance", nil, &resp); err != nil {
		return Balance{}, fmt.Errorf("kalshi: get balance: %w", err)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// query collects non-zero query parameters.
type query url.Values

func (q query) str(key, v string) {
	if v != "" {
		url.Values(q).Set(key, v)
	}
}

func (q query) num(key string, v int64) {
	if v != 0 {
		url.Values(q).Set(key, strconv.FormatInt(v, 10))
	}
}

func (c *Client) get(ctx context.Context, path string, q query, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do builds, signs (RSA), sends, and reads an HTTP request against the
// Kalshi API.
func (c *Client) do(ctx context.Context, method, path string, q query, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if len(q) > 0 {
		u.RawQuery = url.Values(q).Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// The signature covers the full path without the query string.
	if err := c.sign(req.Header, method, u.EscapedPath()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("kalshi request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", c.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// sign adds RSA authentication headers. Kalshi uses RSA-PSS-SHA256
// signatures over the timestamp + method + path message string.
func (c *Client) sign(h http.Header, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(ts + method + path))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	h.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}
