package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong message.
	wsPongWait = 30 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than pongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// FillHandler is called for every fill received on the stream. Handlers run
// on the read goroutine, one fill at a time.
type FillHandler func(ctx context.Context, f Fill)

// FillStream is an authenticated WebSocket subscription to the caller's
// fills. It reconnects with exponential backoff until ctx is cancelled.
type FillStream struct {
	wsURL  string
	client *Client // signs the handshake
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cmdID    int64
	handlers []FillHandler
}

// NewFillStream creates a fill stream that authenticates with c's key.
//
// wsURL is the WebSocket endpoint, e.g. "wss://api.elections.kalshi.com/trade-api/ws/v2".
func (c *Client) NewFillStream(wsURL string) *FillStream {
	return &FillStream{
		wsURL:  wsURL,
		client: c,
		logger: c.logger.With(slog.String("stream", "fill")),
	}
}

// OnFill registers a handler. Register handlers before calling Run.
func (s *FillStream) OnFill(h FillHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Run connects, subscribes to the fill channel and dispatches messages until
// ctx is cancelled. Connection failures are retried with backoff.
func (s *FillStream) Run(ctx context.Context) error {
	delay := wsReconnectDelay
	for {
		subscribed, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			delay = wsReconnectDelay
		}
		s.logger.Warn("fill stream disconnected",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("retry_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

// session runs one connection until it drops or ctx is cancelled. It
// reports whether the subscription was established.
func (s *FillStream) session(ctx context.Context) (bool, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	if err := s.subscribe(); err != nil {
		return false, fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	s.logger.Info("fill stream subscribed")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(sessCtx)

	// Unblock ReadMessage when the caller cancels.
	go func() {
		<-sessCtx.Done()
		s.writeClose()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("kalshi/ws: read: %w", err)
		}
		s.handleMessage(ctx, raw)
	}
}

func (s *FillStream) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi/ws: parse url: %w", err)
	}
	header := http.Header{}
	if err := s.client.sign(header, http.MethodGet, u.EscapedPath()); err != nil {
		return nil, fmt.Errorf("kalshi/ws: sign handshake: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	return conn, nil
}

func (s *FillStream) subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmdID++

	data, err := json.Marshal(wsCommand{
		ID:     s.cmdID,
		Cmd:    "subscribe",
		Params: wsSubscription{Channels: []string{"fill"}},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends periodic pings to keep the connection alive.
func (s *FillStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			if conn == nil {
				s.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *FillStream) writeClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
}

// handleMessage parses a raw WebSocket message and routes it.
func (s *FillStream) handleMessage(ctx context.Context, raw []byte) {
	var envelope wsMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Warn("undecodable ws message", slog.String("error", err.Error()))
		return
	}

	switch envelope.Type {
	case "fill":
		var wf wsFill
		if err := json.Unmarshal(envelope.Msg, &wf); err != nil {
			s.logger.Warn("undecodable fill", slog.String("error", err.Error()))
			return
		}
		fill := wf.toFill()

		s.mu.Lock()
		handlers := append([]FillHandler(nil), s.handlers...)
		s.mu.Unlock()

		for _, h := range handlers {
			h(ctx, fill)
		}
	case "error":
		s.logger.Error("ws error message", slog.String("msg", string(envelope.Msg)))
	}
}
