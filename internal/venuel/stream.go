// stream.go implements the Venue-L Client's persistent duplex stream:
// connection state machine, exponential-backoff reconnect, a manual
// heartbeat independent of the stream library's own keepalive, and
// shape-based message dispatch into the shared Book Store.
package venuel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"lighter-arb/internal/book"
	"lighter-arb/internal/config"
	"lighter-arb/pkg/types"
)

// ConnState is the Venue-L Client's connection state machine.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateSubscribed   ConnState = "subscribed"
	StateClosing      ConnState = "closing"
)

const (
	heartbeatInterval = 30 * time.Second
	maxReconnectWait  = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// OrderEvent is an own-order lifecycle update from venue L, forwarded
// to the registered handler with the raw payload — this client does not
// interpret its shape beyond routing it.
type OrderEvent struct {
	Venue types.Venue
	Raw   json.RawMessage
}

// Stream manages the venue-L order-book subscription. Book updates are
// pushed directly into the shared Book Store under types.VenueL; the
// caller supplies an OrderEvent handler for own-order updates.
type Stream struct {
	cfg    config.VenueLConfig
	logger *slog.Logger

	store *book.Store

	stateMu sync.RWMutex
	state   ConnState

	connMu sync.Mutex
	conn   *websocket.Conn

	onOrderUpdate func(OrderEvent)
}

func newStream(cfg config.VenueLConfig, logger *slog.Logger) *Stream {
	return &Stream{
		cfg:    cfg,
		logger: logger.With("component", "venuel_stream"),
		store:  book.New(),
		state:  StateDisconnected,
	}
}

// AttachBookStore points the stream's book updates at the shared store
// used by the rest of the system (replacing the stream's private one).
func (s *Stream) AttachBookStore(store *book.Store) {
	s.store = store
}

// OnOrderUpdate registers the handler invoked for own-order events.
func (s *Stream) OnOrderUpdate(fn func(OrderEvent)) {
	s.onOrderUpdate = fn
}

// State returns the current connection state.
func (s *Stream) State() ConnState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Stream) setState(st ConnState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Top returns venue L's current top-of-book, reading through the
// attached Book Store.
func (s *Stream) Top() (types.Quote, bool) {
	return s.store.Top(types.VenueL)
}

// Ready reports whether the subscription has produced a first snapshot.
func (s *Stream) Ready() bool {
	_, ok := s.Top()
	return ok
}

// Run connects, subscribes, and maintains the stream with exponential
// backoff on unexpected disconnect, blocking until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	n := 0
	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateConnecting)
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.logger.Warn("venue-l stream disconnected, reconnecting", "error", err, "attempt", n+1)
		s.setState(StateDisconnected)

		backoff := time.Duration(minInt(1<<uint(n), 30)) * time.Second
		n++
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.setState(StateConnected)

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	sub := types.VenueLSubscribe{
		Method: "subscribe",
		Params: []string{fmt.Sprintf("order_book/%d", s.cfg.MarketIndex)},
	}
	if err := s.writeJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.setState(StateSubscribed)
	s.logger.Info("venue-l stream subscribed", "market_index", s.cfg.MarketIndex)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.heartbeatLoop(hbCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(msg)
	}
}

// dispatch identifies an inbound message by shape and routes it, per
// the reference implementation's field-sniffing approach — venue L's
// own WS protocol carries no stable envelope type.
func (s *Stream) dispatch(raw []byte) {
	var shape struct {
		OrderBook json.RawMessage `json:"order_book"`
		Type      string          `json:"type"`
		Method    string          `json:"method"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		s.logger.Debug("ignoring non-json venue-l message", "data", truncate(raw, 200))
		return
	}

	switch {
	case shape.OrderBook != nil:
		s.applySnapshot(shape.OrderBook)
	case shape.Type == "order_book_update":
		s.applyDiff(shape.Data)
	case shape.Type == "order_update":
		if s.onOrderUpdate != nil {
			s.onOrderUpdate(OrderEvent{Venue: types.VenueL, Raw: shape.Data})
		}
	case shape.Method == "ping" || shape.Type == "ping":
		s.pong()
	default:
		s.logger.Debug("unknown venue-l message shape", "data", truncate(raw, 200))
	}
}

type bookSide struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func (s *Stream) applySnapshot(raw json.RawMessage) {
	var side bookSide
	if err := json.Unmarshal(raw, &side); err != nil {
		s.logger.Error("unmarshal venue-l book snapshot", "error", err)
		return
	}
	s.store.ApplySnapshot(types.VenueL, levelsFrom(side.Bids), levelsFrom(side.Asks))
}

func (s *Stream) applyDiff(raw json.RawMessage) {
	var side bookSide
	if err := json.Unmarshal(raw, &side); err != nil {
		s.logger.Error("unmarshal venue-l book diff", "error", err)
		return
	}
	s.store.ApplyDiff(types.VenueL, levelsFrom(side.Bids), levelsFrom(side.Asks))
}

func levelsFrom(pairs [][2]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		price, err := decimal.NewFromString(p[0])
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(p[1])
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (s *Stream) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"method": "ping"}); err != nil {
				s.logger.Warn("venue-l heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) pong() {
	if err := s.writeJSON(map[string]string{"method": "pong"}); err != nil {
		s.logger.Warn("venue-l pong failed", "error", err)
	}
}

func (s *Stream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("venue-l stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// Close closes the underlying connection if one is open.
func (s *Stream) Close() error {
	s.setState(StateClosing)
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
