// Package feed provides market-data sources: a WebSocket client speaking the
// normalized book/trade wire format, and a replay source for paper runs and
// tests. Both implement domain.MarketDataSource.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkoval/gotrader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// eventBuffer is the size of the normalized event channel. The event
	// loop drains it; a full buffer drops the oldest book-keeping luxury of
	// a slow consumer: the newest event wins.
	eventBuffer = 1024
)

// wsCommand is the subscribe/unsubscribe message sent to the feed endpoint.
type wsCommand struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// wsMessage is the normalized wire envelope for book and trade events.
type wsMessage struct {
	Type   string      `json:"type"` // "snapshot" | "delta" | "trade"
	Symbol string      `json:"symbol"`
	Bids   [][2]string `json:"bids,omitempty"`
	Asks   [][2]string `json:"asks,omitempty"`
	Price  string      `json:"price,omitempty"`
	Size   string      `json:"size,omitempty"`
	Side   string      `json:"side,omitempty"`
	TsMs   int64       `json:"ts"`
}

var _ domain.MarketDataSource = (*WSSource)(nil)

// WSSource is a WebSocket market-data source. It manages the connection
// lifecycle, keep-alive, subscription restore on reconnect, and normalizes
// wire messages into domain.MarketEvent values consumed through Next.
// Malformed messages are counted and dropped, never surfaced.
type WSSource struct {
	url    string
	logger *slog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	closed     bool
	connected  bool
	subscribed map[domain.Symbol]struct{}
	lastUpdate map[domain.Symbol]time.Time
	dropped    int64

	events chan domain.MarketEvent
	done   chan struct{}
}

// NewWSSource creates a source for the given feed endpoint.
func NewWSSource(url string, logger *slog.Logger) *WSSource {
	return &WSSource{
		url:        url,
		logger:     logger.With(slog.String("component", "ws_feed")),
		subscribed: make(map[domain.Symbol]struct{}),
		lastUpdate: make(map[domain.Symbol]time.Time),
		events:     make(chan domain.MarketEvent, eventBuffer),
		done:       make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Existing subscriptions are restored after a reconnect.
func (s *WSSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("feed: connect: %w", domain.ErrStreamClosed)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", s.url, err)
	}
	s.conn = conn
	s.connected = true

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()

	if len(s.subscribed) > 0 {
		symbols := make([]string, 0, len(s.subscribed))
		for sym := range s.subscribed {
			symbols = append(symbols, string(sym))
		}
		if err := s.sendCommand(wsCommand{Op: "subscribe", Symbols: symbols}); err != nil {
			return fmt.Errorf("feed: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe requests book and trade events for the symbols.
func (s *WSSource) Subscribe(_ context.Context, symbols []domain.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("feed: subscribe: not connected")
	}
	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		s.subscribed[sym] = struct{}{}
		names = append(names, string(sym))
	}
	if err := s.sendCommand(wsCommand{Op: "subscribe", Symbols: names}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

// Unsubscribe stops events for the symbols.
func (s *WSSource) Unsubscribe(_ context.Context, symbols []domain.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("feed: unsubscribe: not connected")
	}
	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		delete(s.subscribed, sym)
		names = append(names, string(sym))
	}
	if err := s.sendCommand(wsCommand{Op: "unsubscribe", Symbols: names}); err != nil {
		return fmt.Errorf("feed: unsubscribe: %w", err)
	}
	return nil
}

// Next blocks until a normalized event is available, the context is
// cancelled, or the source is closed.
func (s *WSSource) Next(ctx context.Context) (domain.MarketEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return domain.MarketEvent{}, domain.ErrStreamClosed
		}
		return ev, nil
	case <-s.done:
		return domain.MarketEvent{}, domain.ErrStreamClosed
	case <-ctx.Done():
		return domain.MarketEvent{}, ctx.Err()
	}
}

// IsConnected reports whether the underlying connection is up.
func (s *WSSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastUpdate returns the timestamp of the most recent event for the symbol.
func (s *WSSource) LastUpdate(symbol domain.Symbol) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.lastUpdate[symbol]
	return ts, ok
}

// Dropped returns how many malformed messages have been discarded.
func (s *WSSource) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Close shuts the source down. Next returns ErrStreamClosed afterwards.
func (s *WSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected = false
	close(s.done)
	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command. Callers hold s.mu.
func (s *WSSource) sendCommand(cmd wsCommand) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads wire messages and pushes normalized events. On a read error
// it reconnects with exponential backoff unless the source is closed.
func (s *WSSource) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			s.reconnect()
			return // a successful reconnect starts a fresh readLoop
		}

		s.handleMessage(raw)
	}
}

// pingLoop keeps the connection alive.
func (s *WSSource) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage normalizes one wire message. Anything that fails to parse is
// dropped and counted.
func (s *WSSource) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.drop()
		return
	}
	ev, ok := normalize(msg)
	if !ok {
		s.drop()
		return
	}

	s.mu.Lock()
	s.lastUpdate[ev.Symbol] = ev.Timestamp
	s.mu.Unlock()

	select {
	case s.events <- ev:
	default:
		// Consumer is behind; shed the oldest event to keep the stream live.
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *WSSource) drop() {
	s.mu.Lock()
	s.dropped++
	n := s.dropped
	s.mu.Unlock()
	if n%1000 == 1 {
		s.logger.Warn("malformed feed messages dropped", slog.Int64("total", n))
	}
}

// reconnect blocks until the connection is re-established or the source is
// closed, doubling the delay up to maxReconnectDelay.
func (s *WSSource) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.logger.Warn("feed disconnected, reconnecting", slog.Duration("delay", delay))
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("feed reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// normalize converts a wire message into a domain event. It returns false
// when required fields are missing or unparseable.
func normalize(msg wsMessage) (domain.MarketEvent, bool) {
	symbol, err := domain.NewSymbol(msg.Symbol)
	if err != nil {
		return domain.MarketEvent{}, false
	}
	ts := time.UnixMilli(msg.TsMs).UTC()

	switch msg.Type {
	case "snapshot", "delta":
		bids, ok := parseLevels(msg.Bids)
		if !ok {
			return domain.MarketEvent{}, false
		}
		asks, ok := parseLevels(msg.Asks)
		if !ok {
			return domain.MarketEvent{}, false
		}
		evType := domain.MarketEventSnapshot
		if msg.Type == "delta" {
			evType = domain.MarketEventDelta
		}
		return domain.MarketEvent{
			Type:      evType,
			Symbol:    symbol,
			Bids:      bids,
			Asks:      asks,
			Timestamp: ts,
		}, true

	case "trade":
		price, err := domain.ParsePrice(msg.Price)
		if err != nil {
			return domain.MarketEvent{}, false
		}
		size, err := domain.ParseSize(msg.Size)
		if err != nil {
			return domain.MarketEvent{}, false
		}
		side := domain.Side(msg.Side)
		if side != domain.SideBuy && side != domain.SideSell {
			return domain.MarketEvent{}, false
		}
		return domain.MarketEvent{
			Type:       domain.MarketEventTrade,
			Symbol:     symbol,
			TradePrice: price,
			TradeSize:  size,
			TradeSide:  side,
			Timestamp:  ts,
		}, true

	default:
		return domain.MarketEvent{}, false
	}
}

func parseLevels(raw [][2]string) ([]domain.BookLevel, bool) {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := domain.ParsePrice(pair[0])
		if err != nil {
			return nil, false
		}
		size, err := domain.ParseSize(pair[1])
		if err != nil {
			return nil, false
		}
		levels = append(levels, domain.BookLevel{Price: price, Size: size})
	}
	return levels, true
}
