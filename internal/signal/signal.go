// Package signal implements the Signal Engine: it samples the Book
// Store's cross-venue spreads, learns an adaptive trigger threshold for
// each direction, and emits LONG/SHORT arbitrage signals once a spread
// clears its latency-adjusted threshold with room left on the F-venue
// position.
//
// Sampling and signal emission share one Check call, matching the
// reference arbitrage engine's single per-cycle decision function.
package signal

import (
	"log/slog"
	"sync"
	"time"

	"lighter-arb/internal/book"
	"lighter-arb/internal/config"
	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

// recomputeEvery is how many newly sampled spreads pass between adaptive
// threshold recomputations, once initial sampling has completed.
const recomputeEvery = 10

// Engine is the Signal Engine. Check is the only method called from the
// coordinator's main loop; the rest are lifecycle controls invoked from
// bridge/status commands.
type Engine struct {
	mu     sync.Mutex
	cfg    config.StrategyConfig
	books  *book.Store
	logger *slog.Logger

	running bool
	paused  bool

	historyLong  []decimal.Decimal
	historyShort []decimal.Decimal
	isSampling   bool
	sampleCount  int

	longThreshold  decimal.Decimal
	shortThreshold decimal.Decimal

	lastSignalAt time.Time
}

// New creates a Signal Engine bound to books, with base thresholds taken
// from cfg and sampling reset to start fresh.
func New(cfg config.StrategyConfig, books *book.Store, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		books:  books,
		logger: logger.With("component", "signal"),
	}
	e.resetSamplingLocked()
	return e
}

// Start enables Check to sample and emit. A freshly constructed Engine
// must be started before it samples.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.paused = false
	e.logger.Info("signal engine started")
}

// Stop disables Check entirely; it returns no signal until Start is
// called again.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.logger.Info("signal engine stopped")
}

// Pause suspends emission without discarding learned thresholds or
// sample history. Check neither samples nor emits while paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume clears a prior Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// ResetSampling discards sample history and restores the configured base
// thresholds, re-entering the sampling phase.
func (e *Engine) ResetSampling() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetSamplingLocked()
	e.logger.Info("sampling reset")
}

func (e *Engine) resetSamplingLocked() {
	capacity := 2 * e.cfg.MinSamples
	if capacity <= 0 {
		capacity = 200
	}
	e.historyLong = make([]decimal.Decimal, 0, capacity)
	e.historyShort = make([]decimal.Decimal, 0, capacity)
	e.isSampling = true
	e.sampleCount = 0
	e.longThreshold = e.cfg.LongThreshold
	e.shortThreshold = e.cfg.ShortThreshold
}

// UpdateConfig swaps in a new strategy config. Thresholds and history are
// left untouched; call ResetSampling afterward if a clean relearn is
// wanted.
func (e *Engine) UpdateConfig(cfg config.StrategyConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Status is a diagnostic snapshot of the engine's learning state.
type Status struct {
	Running        bool
	Paused         bool
	IsSampling     bool
	SampleCount    int
	LongThreshold  decimal.Decimal
	ShortThreshold decimal.Decimal
	LastSignalAt   time.Time
}

// Status returns the current lifecycle and threshold state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:        e.running,
		Paused:         e.paused,
		IsSampling:     e.isSampling,
		SampleCount:    e.sampleCount,
		LongThreshold:  e.longThreshold,
		ShortThreshold: e.shortThreshold,
		LastSignalAt:   e.lastSignalAt,
	}
}

// Check is called once per cycle from the coordinator's main loop. It
// samples the current spreads, updates the adaptive thresholds, and —
// once sampling has completed and the minimum signal interval has
// elapsed — evaluates the LONG/SHORT signal rule. latencyMs is the
// estimated round-trip to venue F, used to widen the threshold under
// load. fPosition is the current signed F-venue position.
func (e *Engine) Check(latencyMs float64, fPosition decimal.Decimal) (types.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.paused {
		return types.Signal{}, false
	}

	long, short, ok := e.books.Spreads()
	if ok {
		e.sampleLocked(long, short)
	}

	if e.isSampling {
		return types.Signal{}, false
	}
	if !ok {
		return types.Signal{}, false
	}
	if e.cfg.MinSignalInterval > 0 && time.Since(e.lastSignalAt) < e.cfg.MinSignalInterval {
		return types.Signal{}, false
	}

	latencyAdj := decimal.NewFromInt(int64(latencyMs) / 50).Mul(e.cfg.TickSize)
	adaptiveLong := e.longThreshold.Add(latencyAdj)
	adaptiveShort := e.shortThreshold.Add(latencyAdj)

	fTop, fOK := e.books.Top(types.VenueF)
	lTop, lOK := e.books.Top(types.VenueL)
	if !fOK || !lOK {
		return types.Signal{}, false
	}

	if long.GreaterThan(adaptiveLong) && fPosition.LessThan(e.cfg.MaxPosition) {
		sig := e.buildSignalLocked(types.DirLong, long, adaptiveLong, fTop, lTop)
		return sig, true
	}
	if short.GreaterThan(adaptiveShort) && fPosition.GreaterThan(e.cfg.MaxPosition.Neg()) {
		sig := e.buildSignalLocked(types.DirShort, short, adaptiveShort, fTop, lTop)
		return sig, true
	}
	return types.Signal{}, false
}

// buildSignalLocked must be called with mu held. It constructs the
// Signal for direction and records lastSignalAt. lTop supplies the
// L-leg reference price at decision time (the data model's LPrice),
// distinct from the F-leg's maker target price.
func (e *Engine) buildSignalLocked(dir types.Direction, spread, threshold decimal.Decimal, fTop, lTop types.Quote) types.Signal {
	now := time.Now()
	e.lastSignalAt = now

	confidence := spread.Sub(threshold).Div(decimal.NewFromInt(10))
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}
	confF, _ := confidence.Float64()

	sig := types.Signal{
		Direction:     dir,
		Spread:        spread,
		Threshold:     threshold,
		Quantity:      e.cfg.OrderQuantity,
		Timestamp:     now,
		Confidence:    confF,
		ClientOrderID: types.GenerateClientOrderID(dir, now),
	}

	if dir == types.DirLong {
		sig.FSide = types.Buy
		sig.LSide = types.Sell
		sig.FPrice = fTop.Ask.Sub(e.cfg.TickSize)
		sig.LPrice = lTop.Bid
	} else {
		sig.FSide = types.Sell
		sig.LSide = types.Buy
		sig.FPrice = fTop.Bid.Add(e.cfg.TickSize)
		sig.LPrice = lTop.Ask
	}

	e.logger.Info("signal emitted",
		"direction", dir, "spread", spread, "threshold", threshold,
		"f_price", sig.FPrice, "confidence", sig.Confidence)
	return sig
}

// sampleLocked must be called with mu held. It appends the current
// spreads to both bounded history buffers, clears the sampling flag and
// computes initial thresholds once min_samples have accumulated, and
// otherwise recomputes thresholds every recomputeEvery new samples.
func (e *Engine) sampleLocked(long, short decimal.Decimal) {
	e.historyLong = appendBounded(e.historyLong, long, 2*e.cfg.MinSamples)
	e.historyShort = appendBounded(e.historyShort, short, 2*e.cfg.MinSamples)
	e.sampleCount++

	if e.isSampling {
		if len(e.historyLong) >= e.cfg.MinSamples {
			e.recomputeThresholdsLocked()
			e.isSampling = false
			e.logger.Info("sampling complete",
				"long_threshold", e.longThreshold, "short_threshold", e.shortThreshold)
		}
		return
	}

	if e.sampleCount%recomputeEvery == 0 {
		e.recomputeThresholdsLocked()
	}
}

func (e *Engine) recomputeThresholdsLocked() {
	e.longThreshold = mean(e.historyLong).Add(e.cfg.ThresholdOffset)
	e.shortThreshold = mean(e.historyShort).Add(e.cfg.ThresholdOffset)
}

func mean(vals []decimal.Decimal) decimal.Decimal {
	if len(vals) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vals))))
}

// appendBounded appends v to hist, dropping the oldest entry once the
// history reaches cap samples (cap <= 0 means unbounded).
func appendBounded(hist []decimal.Decimal, v decimal.Decimal, capAt int) []decimal.Decimal {
	hist = append(hist, v)
	if capAt > 0 && len(hist) > capAt {
		hist = hist[len(hist)-capAt:]
	}
	return hist
}
