package kalshi

import (
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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// verifySignature checks the KALSHI-ACCESS-* headers against the request's
// method and path.
func verifySignature(t *testing.T, r *http.Request, pub *rsa.PublicKey) {
	t.Helper()
	if r.Header.Get("KALSHI-ACCESS-KEY") != "key-id" {
		t.Errorf("access key = %q", r.Header.Get("KALSHI-ACCESS-KEY"))
	}
	ts := r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get("KALSHI-ACCESS-SIGNATURE"))
	if err != nil {
		t.Fatalf("signature not base64: %v", err)
	}
	hash := sha256.Sum256([]byte(ts + r.Method + r.URL.Path))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		t.Errorf("signature does not verify for %s %s: %v", r.Method, r.URL.Path, err)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/trade-api/v2", "key-id", discard())
	c.privateKey = rsaKey(t)
	return c, srv
}

func TestSignedRequestCoversPathWithoutQuery(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, &rsaKey(t).PublicKey)
		gotQuery = r.URL.RawQuery
		if r.URL.Path != "/trade-api/v2/markets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"markets":[{"ticker":"A","volume":3},{"ticker":"B","volume":9}],"cursor":"next"}`))
	})

	markets, cursor, err := c.GetMarkets(context.Background(), MarketFilter{Limit: 50, Status: "open"})
	if err != nil {
		t.Fatalf("GetMarkets: %v", err)
	}
	if len(markets) != 2 || markets[1].Volume != 9 || cursor != "next" {
		t.Fatalf("markets = %+v cursor=%q", markets, cursor)
	}
	if gotQuery != "limit=50&status=open" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		code     string
	}{
		{"nested not found", 404, `{"error":{"code":"not_found","message":"market not found"}}`, domain.ErrNotFound, "not_found"},
		{"flat unauthorized", 401, `{"code":"auth","message":"bad signature"}`, domain.ErrUnauthorized, "auth"},
		{"rate limited", 429, `{}`, domain.ErrRateLimited, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.GetMarket(context.Background(), "NOPE")
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("err = %v, want %v", err, tt.sentinel)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err %v is not an *APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Code != tt.code {
				t.Errorf("apiErr = %+v", apiErr)
			}
			if string(apiErr.Body) != tt.body {
				t.Errorf("body = %s, want raw payload", apiErr.Body)
			}
		})
	}
}

func TestCandlesticksResolveSeries(t *testing.T) {
	var candlePath, candleQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/trade-api/v2/markets/KXBTC-25":
			_, _ = w.Write([]byte(`{"market":{"ticker":"KXBTC-25","event_ticker":"KXBTC"}}`))
		case r.URL.Path == "/trade-api/v2/events/KXBTC":
			_, _ = w.Write([]byte(`{"event":{"event_ticker":"KXBTC","series_ticker":"KXBTCS"}}`))
		case strings.HasSuffix(r.URL.Path, "/candlesticks"):
			candlePath, candleQuery = r.URL.Path, r.URL.RawQuery
			_, _ = w.Write([]byte(`{"candlesticks":[{"end_period_ts":3600,"price":{"open":40,"close":null},"volume":12}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	candles, err := c.GetMarketCandlesticks(context.Background(), "KXBTC-25", CandlestickParams{
		StartTs: 100, EndTs: 200, PeriodInterval: 60,
	})
	if err != nil {
		t.Fatalf("GetMarketCandlesticks: %v", err)
	}
	if candlePath != "/trade-api/v2/series/KXBTCS/markets/KXBTC-25/candlesticks" {
		t.Errorf("path = %s", candlePath)
	}
	if candleQuery != "end_ts=200&period_interval=60&start_ts=100" {
		t.Errorf("query = %s", candleQuery)
	}
	if len(candles) != 1 || *candles[0].Price.Open != 40 || candles[0].Price.Close != nil {
		t.Fatalf("candles = %+v", candles)
	}
}

func TestOrderbookLevels(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orderbook":{"yes":[[42,100],[41,5]],"no":null}}`))
	})
	ob, err := c.GetOrderbook(context.Background(), "T", 0)
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if ob.Ticker != "T" || len(ob.Yes) != 2 || ob.Yes[0] != (PriceLevel{Price: 42, Quantity: 100}) {
		t.Fatalf("orderbook = %+v", ob)
	}
}

func TestCreateOrder(t *testing.T) {
	var got CreateOrderParams
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, &rsaKey(t).PublicKey)
		if r.Method != http.MethodPost || r.URL.Path != "/trade-api/v2/portfolio/orders" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"order":{"order_id":"o-1","ticker":"T","status":"executed","taker_fill_count":3,"maker_fill_count":2}}`))
	})

	price := int64(99)
	order, err := c.CreateOrder(context.Background(), CreateOrderParams{
		Ticker: "T", Action: "buy", Side: "yes", Type: "market", Count: 5, YesPrice: &price,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if got.YesPrice == nil || *got.YesPrice != 99 || got.NoPrice != nil {
		t.Errorf("sent = %+v", got)
	}
	if order.OrderID != "o-1" || order.Filled() != 5 {
		t.Errorf("order = %+v filled=%d", order, order.Filled())
	}
}

func TestLoadRSAPrivateKey(t *testing.T) {
	key := rsaKey(t)
	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	tests := []struct {
		name    string
		pem     string
		wantErr bool
	}{
		{name: "pkcs8", pem: string(pkcs8)},
		{name: "pkcs1", pem: string(pkcs1)},
		{name: "escaped newlines", pem: strings.ReplaceAll(string(pkcs8), "\n", `\n`)},
		{name: "garbage", pem: "not a key", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient("http://x", "k", discard())
			err := c.LoadRSAPrivateKey("", tt.pem)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadRSAPrivateKey: %v", err)
			}
			if !c.privateKey.Equal(key) {
				t.Fatal("loaded a different key")
			}
		})
	}
}

func TestFillStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan wsCommand, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifySignature(t, r, &rsaKey(t).PublicKey)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd

		_ = conn.WriteJSON(map[string]any{
			"type": "fill",
			"sid":  1,
			"msg": map[string]any{
				"trade_id": "t-9", "order_id": "o-1", "market_ticker": "T",
				"side": "yes", "action": "buy", "count": 4, "yes_price": 60,
			},
		})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient("http://unused", "key-id", discard())
	c.privateKey = rsaKey(t)
	stream := c.NewFillStream("ws" + strings.TrimPrefix(srv.URL, "http") + "/trade-api/ws/v2")

	fills := make(chan Fill, 1)
	stream.OnFill(func(_ context.Context, f Fill) { fills <- f })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	select {
	case cmd := <-subscribed:
		if cmd.Cmd != "subscribe" || len(cmd.Params.Channels) != 1 || cmd.Params.Channels[0] != "fill" {
			t.Errorf("subscribe cmd = %+v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe command")
	}

	select {
	case f := <-fills:
		if f.TradeID != "t-9" || f.OrderID != "o-1" || f.Count != 4 || f.NoPrice != 40 {
			t.Errorf("fill = %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fill delivered")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
