// Package coordinator is the central orchestrator of the arbitrage
// executor.
//
// It wires together every subsystem:
//
//  1. Bridge Server accepts the single front-end connection (venue F)
//     and relays market data, fills, and commands over it.
//  2. Venue-L Client streams venue L's order book directly and places
//     hedge orders via REST.
//  3. Book Store mirrors both venues' top-of-book; Signal Engine reads
//     it every cycle to decide whether a spread clears its threshold.
//  4. Risk Gate admits or rejects each signal and trips a circuit
//     breaker on an error burst.
//  5. Position Ledger tracks signed exposure per venue; eventlog and
//     notify record and report what happened.
//
// Lifecycle: New() → Start(ctx) → [runs until ctx is canceled] → Stop()
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lighter-arb/internal/book"
	"lighter-arb/internal/bridge"
	"lighter-arb/internal/config"
	"lighter-arb/internal/eventlog"
	"lighter-arb/internal/latency"
	"lighter-arb/internal/ledger"
	"lighter-arb/internal/notify"
	"lighter-arb/internal/risk"
	"lighter-arb/internal/signal"
	"lighter-arb/internal/venuel"
	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

// venueLReadyPoll is how often Start polls the venue-L stream while
// waiting for its first book snapshot.
const venueLReadyPoll = 100 * time.Millisecond

// venueLReadyTimeout bounds how long Start waits for venue L before
// giving up.
const venueLReadyTimeout = 5 * time.Second

// Coordinator orchestrates all components of the arbitrage executor.
// It owns the lifecycle of every goroutine and is the only caller of
// the Risk Gate's Admit and the Signal Engine's Check.
type Coordinator struct {
	cfg    config.Config
	logger *slog.Logger

	bridge  *bridge.Server
	venueL  *venuel.Client
	books   *book.Store
	led     *ledger.Ledger
	riskMgr *risk.Manager
	lat     *latency.Meter
	sig     *signal.Engine
	events  *eventlog.Logger
	notify  *notify.Sender

	pendingMu sync.Mutex
	pending   map[string]*types.PendingOrder

	// statsMu guards signalCount/tradeCount: tradingLoop mutates them,
	// and both tradingLoop and the notifier's independent status-report
	// goroutine read them via statusSnapshot.
	statsMu     sync.Mutex
	signalCount int
	tradeCount  int

	samplingNotified bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component but starts nothing; call Start to begin
// trading.
func New(cfg config.Config, logger *slog.Logger) (*Coordinator, error) {
	auth, err := venuel.NewAuth(cfg.VenueL.APIKeyPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("venue-l auth: %w", err)
	}

	books := book.New()
	venueLClient := venuel.NewClient(cfg.VenueL, auth, cfg.DryRun, logger)
	venueLClient.AttachBookStore(books)

	events, err := eventlog.Open(cfg.Logging.Dir, cfg.Strategy.Ticker)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	led := ledger.New()
	riskMgr := risk.NewManager(cfg.Risk, logger)
	sigEngine := signal.New(cfg.Strategy, books, logger)
	notifier := notify.New(cfg.Telegram, logger)

	bridgeSrv := bridge.New(cfg.Server, books, logger)

	c := &Coordinator{
		cfg:     cfg,
		logger:  logger.With("component", "coordinator"),
		bridge:  bridgeSrv,
		venueL:  venueLClient,
		books:   books,
		led:     led,
		riskMgr: riskMgr,
		lat:     latency.New(),
		sig:     sigEngine,
		events:  events,
		notify:  notifier,
		pending: make(map[string]*types.PendingOrder),
	}

	riskMgr.OnEmergency(c.onEmergency)
	c.wireBridgeCallbacks()
	c.venueL.OnOrderUpdate(c.onVenueLOrderUpdate)

	return c, nil
}

func (c *Coordinator) wireBridgeCallbacks() {
	c.bridge.OnReady(c.onFrontendReady)
	c.bridge.OnDisconnect(c.onFrontendDisconnect)
	c.bridge.OnMarketData(c.onMarketData)
	c.bridge.OnOrderPlaced(c.onOrderPlaced)
	c.bridge.OnOrderUpdate(c.onOrderUpdate)
}

// Start runs the full startup sequence — bridge, venue-L stream, sync
// of the L-side position, Signal Engine — then launches the main
// trading loop. It returns once the loop goroutine is running; Stop
// shuts everything back down.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.bridge.Start(c.ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.venueL.Run(c.ctx)
	}()

	if err := c.awaitVenueLReady(c.ctx); err != nil {
		c.logger.Warn("venue-l did not become ready before timeout, continuing anyway", "error", err)
	}

	if err := c.led.SyncFromVenueL(c.ctx, c.venueL); err != nil {
		c.logger.Error("initial venue-l position sync failed, assuming flat", "error", err)
	}

	c.sig.Start()
	c.notify.Startup()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.notify.Run(c.ctx.Done())
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.notify.RunStatusReports(c.ctx.Done(), c.cfg.Telegram.StatusReportInterval, c.statusSnapshot)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.events.Run(c.ctx.Done(), 30*time.Second)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tradingLoop()
	}()

	c.logger.Info("coordinator started",
		"ticker", c.cfg.Strategy.Ticker,
		"order_quantity", c.cfg.Strategy.OrderQuantity,
		"dry_run", c.cfg.DryRun,
	)
	return nil
}

func (c *Coordinator) awaitVenueLReady(ctx context.Context) error {
	deadline := time.Now().Add(venueLReadyTimeout)
	ticker := time.NewTicker(venueLReadyPoll)
	defer ticker.Stop()
	for {
		if c.venueL.Ready() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for venue-l stream")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop gracefully shuts down: stops the Signal Engine, attempts to
// flatten any open position on both venues, cancels all goroutines,
// flushes the event log, and sends a final Telegram message.
func (c *Coordinator) Stop() {
	c.logger.Info("shutting down...")
	c.sig.Stop()

	c.emergencyFlatten("shutdown")

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.bridge.Stop()
	c.venueL.Close()
	if err := c.events.Close(); err != nil {
		c.logger.Error("failed to close event log", "error", err)
	}
	c.notify.Shutdown()

	c.logger.Info("shutdown complete")
}

// tradingLoop is the main coordinator loop: once per cycle it estimates
// front-end latency, asks the Signal Engine for a decision, and (if
// admitted) dispatches it. It also owns the periodic snapshot and
// status-line cadence.
func (c *Coordinator) tradingLoop() {
	ticker := time.NewTicker(c.cfg.Strategy.CycleInterval)
	defer ticker.Stop()

	snapshotTicker := time.NewTicker(c.cfg.Strategy.SnapshotInterval)
	defer snapshotTicker.Stop()

	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.runCycle()
		case <-snapshotTicker.C:
			c.logSnapshot()
		case <-statusTicker.C:
			c.logStatusLine()
		}
	}
}

func (c *Coordinator) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("trading loop panic recovered", "panic", r)
			c.riskMgr.RecordError("trading_loop")
		}
	}()

	if !c.bridge.Ready() || !c.books.Ready() {
		return
	}

	c.checkSamplingComplete()

	latencyMs := c.lat.EstimateFrontendLatency()
	fPosition := c.led.Get(types.VenueF)

	sig, ok := c.sig.Check(latencyMs, fPosition)
	if !ok {
		return
	}
	c.statsMu.Lock()
	c.signalCount++
	c.statsMu.Unlock()

	if !c.riskMgr.Admit(sig, c.led) {
		return
	}

	c.dispatchSignal(sig)
}

func (c *Coordinator) checkSamplingComplete() {
	if c.samplingNotified {
		return
	}
	status := c.sig.Status()
	if status.IsSampling {
		return
	}
	c.samplingNotified = true
	c.notify.SamplingComplete(c.cfg.Strategy.MinSamples, status.LongThreshold, status.ShortThreshold)
}

// dispatchSignal inserts a Pending Order, starts the F-leg latency
// timer, and sends execute_order to the bridge.
func (c *Coordinator) dispatchSignal(sig types.Signal) {
	po := &types.PendingOrder{
		Signal:   sig,
		Status:   types.StatusPending,
		IssuedAt: time.Now(),
	}

	c.pendingMu.Lock()
	c.pending[sig.ClientOrderID] = po
	c.pendingMu.Unlock()

	c.lat.StartTimer(sig.ClientOrderID)

	cmd := types.ExecuteOrderCmd{
		Side:          string(sig.FSide),
		Quantity:      sig.Quantity.String(),
		Price:         types.FormatPrice(sig.FPrice, c.cfg.Strategy.TickSize),
		ClientOrderID: sig.ClientOrderID,
	}
	if err := c.bridge.ExecuteOrder(cmd); err != nil {
		c.logger.Error("failed to dispatch signal", "client_order_id", sig.ClientOrderID, "error", err)
		c.riskMgr.RecordError("dispatch_failed")
		c.pendingMu.Lock()
		delete(c.pending, sig.ClientOrderID)
		c.pendingMu.Unlock()
	}
}

// onFrontendReady fires once the front end reports readiness, logging
// it, notifying the operator, and recording a frontend_ready event.
func (c *Coordinator) onFrontendReady(exchange, ticker, contractID string) {
	c.logger.Info("front end ready", "exchange", exchange, "ticker", ticker, "contract_id", contractID)
	c.notify.FrontendConnected(ticker)
	_ = c.events.LogEvent("frontend_ready", map[string]string{
		"exchange": exchange, "ticker": ticker, "contract_id": contractID,
	})
}

func (c *Coordinator) onFrontendDisconnect(exchange string) {
	c.logger.Warn("front end disconnected", "exchange", exchange)
	c.riskMgr.RecordError("frontend_disconnect")
	_ = c.events.LogEvent("frontend_disconnect", map[string]string{"exchange": exchange})
}

func (c *Coordinator) onMarketData(data types.MarketDataUpdate) {
	fTop, fOK := c.books.Top(types.VenueF)
	lTop, lOK := c.books.Top(types.VenueL)
	if !fOK || !lOK {
		return
	}
	long, short, ok := c.books.Spreads()
	if !ok {
		return
	}
	status := c.sig.Status()
	c.events.LogBBO(eventlog.BBORecord{
		FBid: fTop.Bid, FAsk: fTop.Ask, LBid: lTop.Bid, LAsk: lTop.Ask,
		LongSpread: long, ShortSpread: short,
		LongThreshold: status.LongThreshold, ShortThreshold: status.ShortThreshold,
	})
}

// onOrderPlaced handles the bridge's order_placed acknowledgement for
// the F leg: on success it stamps the F-order latency and marks the
// Pending Order placed; on failure it records the error and drops it.
func (c *Coordinator) onOrderPlaced(data types.OrderPlacedData) {
	c.pendingMu.Lock()
	po, ok := c.pending[data.ClientOrderID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if ms, timed := c.lat.StopTimer(data.ClientOrderID, types.LatencyFOrder); timed {
		po.FPlaceLatency = time.Duration(ms * float64(time.Millisecond))
	}

	if !data.Success {
		c.logger.Error("f-venue order placement failed", "client_order_id", data.ClientOrderID, "error", data.Error)
		c.riskMgr.RecordError("order_failed")
		c.pendingMu.Lock()
		delete(c.pending, data.ClientOrderID)
		c.pendingMu.Unlock()
		return
	}

	c.pendingMu.Lock()
	po.Status = types.StatusPlaced
	po.FVenueOrderID = data.OrderID
	c.pendingMu.Unlock()
}

// onOrderUpdate handles the bridge's order_update for the F leg:
// FILLED triggers the venue-L hedge and trade logging, CANCELED just
// clears the Pending Order.
func (c *Coordinator) onOrderUpdate(data types.OrderUpdateData) {
	c.pendingMu.Lock()
	po, ok := c.pending[data.ClientOrderID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	switch data.Status {
	case types.FEOrderFilled:
		c.handleFill(po, data)
	case types.FEOrderCanceled, types.FEOrderRejected:
		c.logger.Info("f-venue order canceled/rejected", "client_order_id", data.ClientOrderID)
		c.pendingMu.Lock()
		delete(c.pending, data.ClientOrderID)
		c.pendingMu.Unlock()
	}
}

func (c *Coordinator) handleFill(po *types.PendingOrder, data types.OrderUpdateData) {
	filled, err := decimal.NewFromString(data.FilledSize)
	if err != nil || filled.IsZero() {
		filled = po.Signal.Quantity
	}

	fDelta := filled
	if po.Signal.FSide == types.Sell {
		fDelta = fDelta.Neg()
	}
	c.led.Apply(types.VenueF, fDelta)

	hedgeOK, hedgeLatencyMs := c.hedge(po.Signal.LSide, filled)

	c.statsMu.Lock()
	c.tradeCount++
	c.statsMu.Unlock()
	c.events.LogTrade(eventlog.TradeRecord{
		Direction:      string(po.Signal.Direction),
		FSide:          string(po.Signal.FSide),
		LSide:          string(po.Signal.LSide),
		Quantity:       filled,
		FPrice:         po.Signal.FPrice,
		LPrice:         po.Signal.LPrice,
		Spread:         po.Signal.Spread,
		Threshold:      po.Signal.Threshold,
		Status:         statusLabel(hedgeOK),
		FPositionAfter: c.led.Get(types.VenueF),
		LPositionAfter: c.led.Get(types.VenueL),
	})

	c.notify.Trade(
		string(po.Signal.Direction), filled.String(),
		po.Signal.FPrice.String(), po.Signal.LPrice.String(), po.Signal.Spread.String(),
		int64(hedgeLatencyMs),
		"0", c.led.Get(types.VenueF).String(), c.led.Get(types.VenueL).String(),
	)

	c.riskMgr.RecordTrade(hedgeOK, decimal.Zero)

	if c.led.Imbalance().GreaterThan(c.cfg.Risk.MaxPositionImbalance) {
		c.notify.PositionImbalance(c.led.Get(types.VenueF).String(), c.led.Get(types.VenueL).String(), c.led.Net().String())
	}

	c.pendingMu.Lock()
	delete(c.pending, po.Signal.ClientOrderID)
	c.pendingMu.Unlock()
}

// hedge places the venue-L offsetting order at an aggressive price
// derived from venue L's current top-of-book.
func (c *Coordinator) hedge(side types.Side, qty decimal.Decimal) (ok bool, latencyMs float64) {
	start := time.Now()

	result := c.venueL.PlaceAggressive(c.ctx, side, qty, decimal.Zero)

	latencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	c.lat.Record(types.LatencyLOrder, latencyMs)

	if !result.OK {
		c.logger.Error("hedge order failed", "side", side, "qty", qty, "error", result.Err)
		c.riskMgr.RecordError("hedge_failed")
		c.notify.ErrorAlert("hedge_failed", result.Err)
		return false, latencyMs
	}

	delta := qty
	if side == types.Sell {
		delta = delta.Neg()
	}
	c.led.Apply(types.VenueL, delta)
	return true, latencyMs
}

func (c *Coordinator) onVenueLOrderUpdate(evt venuel.OrderEvent) {
	c.logger.Debug("venue-l order update", "raw", string(evt.Raw))
}

// onEmergency fires when the Risk Gate's circuit breaker trips. It logs
// and notifies the operator but does not unilaterally flatten — a 300s
// admission cooldown is already in effect and manual review is
// expected, matching the reference implementation's log-and-alert
// behavior rather than an automatic close-everything.
func (c *Coordinator) onEmergency(e risk.Emergency) {
	c.logger.Error("circuit breaker tripped", "count", e.Count, "window", e.Window)
	c.notify.CircuitBreaker(e.Count, int(e.Window.Seconds()))
	_ = c.events.LogEvent("circuit_breaker", map[string]interface{}{
		"count": e.Count, "window_seconds": e.Window.Seconds(),
	})
}

// emergencyFlatten closes both legs' positions: an emergency_close on
// the F venue via the bridge, and a direct Flatten on venue L. Used on
// shutdown; best-effort, errors are logged not propagated.
func (c *Coordinator) emergencyFlatten(reason string) {
	fPos := c.led.Get(types.VenueF)
	if !fPos.IsZero() {
		side := types.Sell
		if fPos.IsNegative() {
			side = types.Buy
		}
		cmd := types.EmergencyCloseCmd{Side: string(side), Quantity: fPos.Abs().String()}
		if err := c.bridge.EmergencyClose(cmd); err != nil {
			c.logger.Error("emergency close on f venue failed", "reason", reason, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if result := c.venueL.Flatten(ctx); !result.OK {
		c.logger.Error("emergency flatten on venue l failed", "reason", reason, "error", result.Err)
	}
}

func (c *Coordinator) logSnapshot() {
	status := c.sig.Status()
	c.events.LogSnapshot(eventlog.SnapshotRecord{
		IsRunning:        status.Running,
		IsSampling:       status.IsSampling,
		SamplesCollected: status.SampleCount,
		FPosition:        c.led.Get(types.VenueF),
		LPosition:        c.led.Get(types.VenueL),
		NetPosition:      c.led.Net(),
	})
}

func (c *Coordinator) logStatusLine() {
	status := c.sig.Status()
	riskStatus := c.riskMgr.Snapshot()
	c.statsMu.Lock()
	signals, trades := c.signalCount, c.tradeCount
	c.statsMu.Unlock()
	c.logger.Info("status",
		"signals", signals, "trades", trades,
		"f_position", c.led.Get(types.VenueF), "l_position", c.led.Get(types.VenueL), "net", c.led.Net(),
		"sampling", status.IsSampling, "long_threshold", status.LongThreshold, "short_threshold", status.ShortThreshold,
		"daily_pnl", riskStatus.DailyPnL, "errors", riskStatus.ErrorCount, "breaker_active", riskStatus.BreakerActive,
		"health", c.lat.HealthScore(),
	)
}

func (c *Coordinator) statusSnapshot() notify.StatusSnapshot {
	status := c.sig.Status()
	riskStatus := c.riskMgr.Snapshot()
	c.statsMu.Lock()
	signals, trades := c.signalCount, c.tradeCount
	c.statsMu.Unlock()
	return notify.StatusSnapshot{
		Running:            status.Running && !riskStatus.BreakerActive,
		SignalCount:        signals,
		TradeCount:         trades,
		ErrorCount:         riskStatus.ErrorCount,
		DailyPnL:           riskStatus.DailyPnL,
		FPosition:          c.led.Get(types.VenueF),
		LPosition:          c.led.Get(types.VenueL),
		NetPosition:        c.led.Net(),
		LongThreshold:      status.LongThreshold,
		ShortThreshold:     status.ShortThreshold,
		CurrentLongSpread:  decimal.Zero,
		CurrentShortSpread: decimal.Zero,
		HealthScore:        int(c.lat.HealthScore()),
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "partial"
}
