// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the executor — sides, quotes,
// signals, pending orders, and the wire payloads exchanged with the
// front-end bridge and venue L. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side, used when computing a hedge leg.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Venue identifies which leg of the arbitrage a value belongs to.
type Venue string

const (
	VenueF Venue = "F" // reached through the front-end bridge
	VenueL Venue = "L" // reached directly by this process
)

// Direction is the arbitrage signal's direction.
type Direction string

const (
	DirLong  Direction = "long"  // buy F, sell L
	DirShort Direction = "short" // sell F, buy L
	DirNone  Direction = "none"
)

// ————————————————————————————————————————————————————————————————————————
// Quotes and order books
// ————————————————————————————————————————————————————————————————————————

// Quote is a venue's top-of-book at a point in time. A venue is "ready"
// once it has produced at least one Quote with both sides populated.
type Quote struct {
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp time.Time
}

// Valid reports whether the quote satisfies bid < ask. A quote failing
// this check must be rejected by the Book Store rather than applied.
func (q Quote) Valid() bool {
	return q.Bid.LessThan(q.Ask)
}

// PriceLevel is a single price/size pair in an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is an immutable arbitrage opportunity emitted by the Signal
// Engine. Every field is set once at construction time.
type Signal struct {
	Direction     Direction
	FSide         Side
	LSide         Side
	FPrice        decimal.Decimal // F-leg target (maker) price
	LPrice        decimal.Decimal // L-leg reference price at decision time
	Spread        decimal.Decimal // observed spread that triggered the signal
	Threshold     decimal.Decimal // adaptive threshold the spread cleared
	Quantity      decimal.Decimal
	Timestamp     time.Time
	Confidence    float64 // [0, 1], diagnostic only
	ClientOrderID string  // arb_{direction}_{epoch_ms}
}

// ————————————————————————————————————————————————————————————————————————
// Pending orders
// ————————————————————————————————————————————————————————————————————————

// OrderStatus is the lifecycle state of a Pending Order.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusPlaced   OrderStatus = "placed"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
	StatusFailed   OrderStatus = "failed"
)

// IsTerminal reports whether the status frees the Pending Order entry.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// PendingOrder tracks one in-flight signal dispatch from the moment it
// is sent to the bridge until a terminal state arrives.
type PendingOrder struct {
	Signal        Signal
	Status        OrderStatus
	IssuedAt      time.Time
	FVenueOrderID string
	FPlaceLatency time.Duration
}

// ————————————————————————————————————————————————————————————————————————
// Latency and errors
// ————————————————————————————————————————————————————————————————————————

// LatencyCategory buckets latency samples by the operation they measure.
type LatencyCategory string

const (
	LatencyFrontendWS    LatencyCategory = "frontend_ws"
	LatencyFOrder        LatencyCategory = "f_order"
	LatencyLOrder        LatencyCategory = "l_order"
	LatencySignalToFill  LatencyCategory = "signal_to_fill"
	LatencyMarketData    LatencyCategory = "market_data"
)

// LatencySample is one recorded measurement within a category.
type LatencySample struct {
	Category  LatencyCategory
	Millis    float64
	Timestamp time.Time
}

// ErrorEvent is a recorded failure fed into the risk gate's error-rate
// and circuit-breaker tracking.
type ErrorEvent struct {
	Kind      string
	Message   string
	Timestamp time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Front-end bridge wire shapes (JSON lines over local TCP)
// ————————————————————————————————————————————————————————————————————————

// BridgeMessage is the envelope for every bridge-wire message in both
// directions: {type, data?, timestamp?, requestId?}.
type BridgeMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// FrontendReadyData is the payload of an inbound frontend_ready message.
type FrontendReadyData struct {
	Exchange   string `json:"exchange"`
	Ticker     string `json:"ticker"`
	ContractID string `json:"contractId"`
}

// MarketDataUpdate is the payload of an inbound market-data message
// relayed from venue F through the bridge.
type MarketDataUpdate struct {
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
	BidSize string `json:"bidSize,omitempty"`
	AskSize string `json:"askSize,omitempty"`
}

// OrderPlacedData is the payload of an inbound order_placed message.
type OrderPlacedData struct {
	ClientOrderID string `json:"clientOrderId"`
	Success       bool   `json:"success"`
	OrderID       string `json:"orderId,omitempty"`
	Error         string `json:"error,omitempty"`
	LatencyMs     int64  `json:"latency"`
}

// FrontendOrderStatus mirrors the venue-F order lifecycle as reported
// by the bridge.
type FrontendOrderStatus string

const (
	FEOrderNew      FrontendOrderStatus = "NEW"
	FEOrderPlaced   FrontendOrderStatus = "PLACED"
	FEOrderFilled   FrontendOrderStatus = "FILLED"
	FEOrderCanceled FrontendOrderStatus = "CANCELED"
	FEOrderRejected FrontendOrderStatus = "REJECTED"
)

// OrderUpdateData is the payload of an inbound order_update message.
type OrderUpdateData struct {
	ClientOrderID string              `json:"clientOrderId"`
	Status        FrontendOrderStatus `json:"status"`
	FilledSize    string              `json:"filledSize"`
	Side          string              `json:"side"`
	Price         string              `json:"price"`
}

// ExecuteOrderCmd is the outbound execute_order payload sent to the bridge.
type ExecuteOrderCmd struct {
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	ClientOrderID string `json:"clientOrderId"`
}

// CancelOrderCmd is the outbound cancel_order payload.
type CancelOrderCmd struct {
	OrderID string `json:"orderId"`
}

// EmergencyCloseCmd is the outbound emergency_close payload.
type EmergencyCloseCmd struct {
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
}

// ————————————————————————————————————————————————————————————————————————
// Venue-L wire shapes
// ————————————————————————————————————————————————————————————————————————

// VenueLSubscribe is the subscription message venue L expects over its
// streaming connection.
type VenueLSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// VenueLPosition is one entry of the account positions array.
type VenueLPosition struct {
	MarketIndex int    `json:"market_index"`
	Size        string `json:"size"`
	IsLong      bool   `json:"is_long"`
}

// VenueLAccount is the decoded response of the account-info endpoint.
type VenueLAccount struct {
	Accounts []struct {
		AvailableBalance string           `json:"available_balance"`
		Positions        []VenueLPosition `json:"positions"`
	} `json:"accounts"`
}

// VenueLOrderRequest is the order-placement request body.
type VenueLOrderRequest struct {
	MarketIndex int    `json:"market_index"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	Type        string `json:"type"`
}

// VenueLOrderResponse is the order-placement response body.
type VenueLOrderResponse struct {
	OrderIndex string `json:"order_index"`
	Error      string `json:"error,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

// GenerateClientOrderID builds an "arb_{direction}_{epoch_ms}" client
// order id. Uniqueness relies on a monotonic millisecond wall clock —
// two calls in the same millisecond collide, matching the reference
// implementation's behavior.
func GenerateClientOrderID(direction Direction, now time.Time) string {
	return fmt.Sprintf("arb_%s_%d", direction, now.UnixMilli())
}

// RoundToTick truncates price down to the nearest multiple of tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	quotient := price.Div(tick).Truncate(0)
	return quotient.Mul(tick)
}

// FormatPrice rounds price to tick and renders it with exactly as many
// decimal places as tick has, since the bridge's execute_order command
// expects a fixed-precision price string rather than decimal.Decimal's
// shortest-round-trip formatting.
func FormatPrice(price, tick decimal.Decimal) string {
	rounded := RoundToTick(price, tick)
	return rounded.StringFixed(tick.Exponent() * -1)
}
