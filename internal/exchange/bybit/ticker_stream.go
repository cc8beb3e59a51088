package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MainnetPublicWSURL is the public spot stream endpoint.
const MainnetPublicWSURL = "wss://stream.bybit.com/v5/public/spot"

// TickerStreamConfig configures TickerStream behavior.
type TickerStreamConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping ops.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// Staleness is how old a cached price may be before Price stops
	// returning it.
	Staleness time.Duration
}

// DefaultTickerStreamConfig returns default stream configuration.
func DefaultTickerStreamConfig() TickerStreamConfig {
	return TickerStreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       60 * time.Second,
		Staleness:         10 * time.Second,
	}
}

// TickerStream maintains a last-price cache fed by the public tickers
// WebSocket channel. Consumers fall back to REST when a symbol is missing or
// stale.
type TickerStream struct {
	endpoint string
	config   TickerStreamConfig
	logger   *zap.Logger

	symbolsMu sync.Mutex
	symbols   map[string]struct{}

	pricesMu sync.RWMutex
	prices   map[string]cachedPrice

	conn   *websocket.Conn
	connMu sync.Mutex
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// NewTickerStream creates a stream subscribed to the given symbols. Run must
// be called to start it.
func NewTickerStream(endpoint string, symbols []string, config *TickerStreamConfig, logger *zap.Logger) *TickerStream {
	cfg := DefaultTickerStreamConfig()
	if config != nil {
		cfg = *config
	}

	subs := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		subs[s] = struct{}{}
	}

	return &TickerStream{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		symbols:  subs,
		prices:   make(map[string]cachedPrice),
	}
}

// Price returns the cached last price for symbol. ok is false when the
// symbol has never been seen or the cache entry is stale.
func (s *TickerStream) Price(symbol string) (decimal.Decimal, bool) {
	s.pricesMu.RLock()
	defer s.pricesMu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok || time.Since(p.at) > s.config.Staleness {
		return decimal.Zero, false
	}
	return p.price, true
}

// Subscribe adds a symbol to the subscription set, taking effect immediately
// on a live connection and surviving reconnects.
func (s *TickerStream) Subscribe(symbol string) error {
	s.symbolsMu.Lock()
	s.symbols[symbol] = struct{}{}
	s.symbolsMu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.writeJSON(map[string]any{"op": "subscribe", "args": []string{"tickers." + symbol}})
}

// Run connects and consumes the stream until ctx is cancelled, reconnecting
// with capped backoff on any failure.
func (s *TickerStream) Run(ctx context.Context) error {
	delay := s.config.ReconnectDelay

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("ticker stream disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

func (s *TickerStream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	if err := s.subscribeAll(); err != nil {
		return err
	}

	// ping loop; Bybit expects an op-level ping, not a control frame
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				s.connMu.Lock()
				err := s.writeJSON(map[string]any{"op": "ping"})
				s.connMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		s.handleMessage(data)
	}
}

func (s *TickerStream) subscribeAll() error {
	s.symbolsMu.Lock()
	args := make([]string, 0, len(s.symbols))
	for symbol := range s.symbols {
		args = append(args, "tickers."+symbol)
	}
	s.symbolsMu.Unlock()

	if len(args) == 0 {
		return nil
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.writeJSON(map[string]any{"op": "subscribe", "args": args})
}

// writeJSON writes a message; callers must hold connMu.
func (s *TickerStream) writeJSON(v any) error {
	if s.conn == nil {
		return fmt.Errorf("ticker stream not connected")
	}
	return s.conn.WriteJSON(v)
}

type tickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (s *TickerStream) handleMessage(data []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("ticker stream: undecodable message", zap.Error(err))
		return
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") || msg.Data.LastPrice == "" {
		return
	}

	price, err := decimal.NewFromString(msg.Data.LastPrice)
	if err != nil {
		s.logger.Warn("ticker stream: bad price",
			zap.String("symbol", msg.Data.Symbol), zap.String("price", msg.Data.LastPrice))
		return
	}

	s.pricesMu.Lock()
	s.prices[msg.Data.Symbol] = cachedPrice{price: price, at: time.Now()}
	s.pricesMu.Unlock()
}
