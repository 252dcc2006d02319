// Package bridge implements the front-end Bridge Server: a duplex
// JSON-lines-over-TCP socket that the venue-F front end connects to.
// It ingests venue-F book updates and order lifecycle events and
// dispatches execution commands the other way.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"lighter-arb/internal/config"
	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

const (
	writeWait    = 10 * time.Second
	maxLineBytes = 512 * 1024
)

// client tracks one connected front end: its socket, liveness, and the
// exchange identity it announced in frontend_ready.
type client struct {
	conn          net.Conn
	mu            sync.Mutex // guards writes to conn
	connectedAt   time.Time
	lastHeartbeat time.Time
	exchange      string
	ready         bool
	contractID    string
	ticker        string
}

func (c *client) send(msg types.BridgeMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err = c.conn.Write(data)
	return err
}

// Server is the front-end Bridge Server. It accepts a single front-end
// connection at a time (reconnects replace the previous client) and
// dispatches inbound messages to registered hooks.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	books  bookFeeder

	ln net.Listener

	mu      sync.RWMutex
	current *client
	handlers map[string]func(json.RawMessage) (interface{}, error)

	onReady        func(exchange, ticker, contractID string)
	onDisconnect   func(exchange string)
	onMarketData   func(update types.MarketDataUpdate)
	onOrderPlaced  func(data types.OrderPlacedData)
	onOrderUpdate  func(data types.OrderUpdateData)
}

// bookFeeder is the subset of *book.Store the bridge needs — kept as an
// interface so this package doesn't import internal/book directly and
// stays testable with a stub.
type bookFeeder interface {
	ApplyTopOfBook(v types.Venue, q types.Quote)
}

// New creates a Bridge Server bound to cfg.Host:cfg.Port. Call Start to
// begin listening.
func New(cfg config.ServerConfig, books bookFeeder, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "bridge"),
		books:    books,
		handlers: make(map[string]func(json.RawMessage) (interface{}, error)),
	}
}

// OnReady registers the hook fired the first time the front end sends
// frontend_ready.
func (s *Server) OnReady(fn func(exchange, ticker, contractID string)) { s.onReady = fn }

// OnDisconnect registers the hook fired when a ready client's socket
// closes.
func (s *Server) OnDisconnect(fn func(exchange string)) { s.onDisconnect = fn }

// OnMarketData registers the hook fired on each edgex_market_data message.
func (s *Server) OnMarketData(fn func(types.MarketDataUpdate)) { s.onMarketData = fn }

// OnOrderPlaced registers the hook fired on each order_placed message.
func (s *Server) OnOrderPlaced(fn func(types.OrderPlacedData)) { s.onOrderPlaced = fn }

// OnOrderUpdate registers the hook fired on each order_update message.
func (s *Server) OnOrderUpdate(fn func(types.OrderUpdateData)) { s.onOrderUpdate = fn }

// RegisterHandler registers a handler for an otherwise-unrecognized
// inbound message type. If the inbound message carried a requestId, the
// handler's return value (or error) is sent back carrying that id.
func (s *Server) RegisterHandler(msgType string, fn func(json.RawMessage) (interface{}, error)) {
	s.handlers[msgType] = fn
}

// Start begins listening and accepting connections. It returns once the
// listener is bound; the accept loop runs in a background goroutine
// until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.Info("bridge server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and the current connection, if any.
func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.conn.Close()
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Error("accept failed", "error", err)
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	c := &client{
		conn:          conn,
		connectedAt:   time.Now(),
		lastHeartbeat: time.Now(),
	}
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	s.logger.Info("front end connected", "remote", conn.RemoteAddr())

	if err := c.send(types.BridgeMessage{
		Type: "welcome",
		Data: map[string]string{"message": "connected to arbitrage executor"},
	}); err != nil {
		s.logger.Error("failed to send welcome", "error", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		s.dispatch(c, scanner.Bytes())
	}

	conn.Close()
	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()

	s.logger.Info("front end disconnected", "exchange", c.exchange, "ready", c.ready)
	if c.ready && s.onDisconnect != nil {
		s.onDisconnect(c.exchange)
	}
}

type inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"requestId"`
}

// dispatch decodes one inbound line and routes it by type. Malformed
// lines are logged with a truncated payload and otherwise ignored —
// they are not counted as risk errors, per the system's error policy.
func (s *Server) dispatch(c *client, line []byte) {
	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Warn("malformed bridge message", "payload", truncate(line, 100), "error", err)
		return
	}

	switch msg.Type {
	case "ping":
		c.lastHeartbeat = time.Now()
		if err := c.send(types.BridgeMessage{Type: "pong", Timestamp: msg.Timestamp}); err != nil {
			s.logger.Error("failed to send pong", "error", err)
		}

	case "frontend_ready":
		var data types.FrontendReadyData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Warn("malformed frontend_ready payload", "error", err)
			return
		}
		wasReady := c.ready
		c.exchange = data.Exchange
		c.contractID = data.ContractID
		c.ticker = data.Ticker
		c.ready = true
		s.logger.Info("frontend ready", "exchange", c.exchange, "ticker", c.ticker)
		if !wasReady && s.onReady != nil {
			s.onReady(data.Exchange, data.Ticker, data.ContractID)
		}

	case "edgex_market_data":
		var data types.MarketDataUpdate
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Warn("malformed market data payload", "error", err)
			return
		}
		s.applyMarketData(data)
		if s.onMarketData != nil {
			s.onMarketData(data)
		}

	case "order_placed":
		var data types.OrderPlacedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Warn("malformed order_placed payload", "error", err)
			return
		}
		s.logger.Info("order placed result", "client_order_id", data.ClientOrderID, "success", data.Success)
		if s.onOrderPlaced != nil {
			s.onOrderPlaced(data)
		}

	case "order_update":
		var data types.OrderUpdateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.logger.Warn("malformed order_update payload", "error", err)
			return
		}
		s.logger.Info("order update", "client_order_id", data.ClientOrderID, "status", data.Status)
		if s.onOrderUpdate != nil {
			s.onOrderUpdate(data)
		}

	case "order_canceled":
		s.logger.Info("order canceled", "payload", string(msg.Data))

	case "status_report":
		s.logger.Debug("status report", "exchange", c.exchange, "payload", string(msg.Data))

	default:
		s.dispatchRegistered(c, msg)
	}
}

func (s *Server) dispatchRegistered(c *client, msg inbound) {
	handler, ok := s.handlers[msg.Type]
	if !ok {
		s.logger.Warn("unknown bridge message type", "type", msg.Type)
		return
	}
	result, err := handler(msg.Data)
	if msg.RequestID == "" {
		if err != nil {
			s.logger.Error("handler failed", "type", msg.Type, "error", err)
		}
		return
	}
	resp := types.BridgeMessage{RequestID: msg.RequestID}
	if err != nil {
		resp.Data = map[string]string{"error": err.Error()}
	} else {
		resp.Data = result
	}
	if sendErr := c.send(resp); sendErr != nil {
		s.logger.Error("failed to send handler response", "error", sendErr)
	}
}

func (s *Server) applyMarketData(data types.MarketDataUpdate) {
	if s.books == nil {
		return
	}
	bid, err1 := decimalFromString(data.BestBid)
	ask, err2 := decimalFromString(data.BestAsk)
	if err1 != nil || err2 != nil {
		s.logger.Warn("market data with unparsable prices", "bid", data.BestBid, "ask", data.BestAsk)
		return
	}
	q := types.Quote{Bid: bid, Ask: ask}
	if data.BidSize != "" {
		if v, err := decimalFromString(data.BidSize); err == nil {
			q.BidSize = v
		}
	}
	if data.AskSize != "" {
		if v, err := decimalFromString(data.AskSize); err == nil {
			q.AskSize = v
		}
	}
	s.books.ApplyTopOfBook(types.VenueF, q)
}

// Ready reports whether the current front end has announced
// frontend_ready.
func (s *Server) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.ready
}

// Connected reports whether a front end is currently connected.
func (s *Server) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// ExecuteOrder sends an execute_order command to the connected front end.
func (s *Server) ExecuteOrder(cmd types.ExecuteOrderCmd) error {
	return s.sendToCurrent(types.BridgeMessage{Type: "execute_order", Data: cmd})
}

// CancelOrder sends a cancel_order command to the connected front end.
func (s *Server) CancelOrder(cmd types.CancelOrderCmd) error {
	return s.sendToCurrent(types.BridgeMessage{Type: "cancel_order", Data: cmd})
}

// EmergencyClose sends an emergency_close command to the connected
// front end.
func (s *Server) EmergencyClose(cmd types.EmergencyCloseCmd) error {
	return s.sendToCurrent(types.BridgeMessage{Type: "emergency_close", Data: cmd})
}

// QueryStatus requests a status report from the connected front end.
func (s *Server) QueryStatus() error {
	return s.sendToCurrent(types.BridgeMessage{Type: "query_status", Data: struct{}{}})
}

func (s *Server) sendToCurrent(msg types.BridgeMessage) error {
	s.mu.RLock()
	c := s.current
	s.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("no front end connected")
	}
	return c.send(msg)
}

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
