// Package risk implements the Risk Gate: a single admit() checkpoint
// every signal must pass before the coordinator dispatches it, plus the
// circuit breaker that trips on an error burst and self-heals after a
// cooldown.
//
// Kept at the teacher's package path and mutex+slog+channel idiom, but
// the check order and the circuit breaker's lazy-reset semantics follow
// the reference risk manager exactly, not the teacher's kill-switch
// design (per-market price-anchor kill switch has no home here — this
// engine trades one instrument across two venues, not many markets).
package risk

import (
	"log/slog"
	"sync"
	"time"

	"lighter-arb/internal/config"
	"lighter-arb/internal/ledger"
	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

// EmergencyKind identifies the reason an emergency handler was invoked.
type EmergencyKind string

const CircuitBreakerTripped EmergencyKind = "circuit_breaker"

// Emergency is passed to the registered emergency handler when the
// circuit breaker trips.
type Emergency struct {
	Kind   EmergencyKind
	Count  int
	Window time.Duration
}

// Manager is the Risk Gate. All fields are mutated only from the
// coordinator goroutine and the stream callbacks that call RecordTrade/
// RecordError, so a single mutex is enough — no separate reader/writer
// split is needed.
type Manager struct {
	mu     sync.Mutex
	cfg    config.RiskConfig
	logger *slog.Logger

	dailyPnL   decimal.Decimal
	tradeCount int
	errorCount int
	errorTimes []time.Time

	breakerActive      bool
	breakerTriggeredAt time.Time

	onEmergency func(Emergency)
}

// NewManager creates a Risk Gate bound to cfg.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "risk"),
		dailyPnL: decimal.Zero,
	}
}

// OnEmergency registers the callback invoked when the circuit breaker
// trips. Not cumulative — only the most recently registered handler
// fires.
func (m *Manager) OnEmergency(fn func(Emergency)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmergency = fn
}

// Admit runs the five ordered checks against signal and ledger, in the
// exact sequence the reference risk manager uses, and returns false on
// the first failing check.
func (m *Manager) Admit(signal types.Signal, led *ledger.Ledger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Circuit breaker.
	if m.breakerActive {
		if time.Since(m.breakerTriggeredAt) <= m.cfg.CircuitBreakerResetAfter {
			m.logger.Warn("signal rejected: circuit breaker active")
			return false
		}
		m.breakerActive = false
		m.logger.Info("circuit breaker auto-reset")
	}

	// 2. Position limit: post-trade F-venue position stays in bounds.
	delta := signal.Quantity
	if signal.FSide == types.Sell {
		delta = delta.Neg()
	}
	postTradeF := led.Get(types.VenueF).Add(delta)
	if postTradeF.GreaterThan(m.cfg.MaxPosition) || postTradeF.LessThan(m.cfg.MaxPosition.Neg()) {
		m.logger.Warn("signal rejected: post-trade position limit", "post_trade", postTradeF)
		return false
	}

	// 3. Imbalance.
	if led.Imbalance().GreaterThan(m.cfg.MaxPositionImbalance) {
		m.logger.Warn("signal rejected: imbalance over limit", "imbalance", led.Imbalance())
		return false
	}

	// 4. Daily loss.
	if m.dailyPnL.LessThan(m.cfg.MaxDailyLoss.Neg()) {
		m.logger.Warn("signal rejected: daily loss limit", "daily_pnl", m.dailyPnL)
		return false
	}

	// 5. Error rate.
	if m.tradeCount > 10 {
		rate := float64(m.errorCount) / float64(m.tradeCount)
		if rate > m.cfg.MaxErrorRate {
			m.logger.Warn("signal rejected: error rate over limit", "rate", rate)
			return false
		}
	}

	return true
}

// RecordTrade updates trade counters and realized pnl. On a failed
// trade it appends an error event and re-evaluates the circuit breaker.
func (m *Manager) RecordTrade(success bool, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tradeCount++
	m.dailyPnL = m.dailyPnL.Add(pnl)
	if !success {
		m.errorCount++
		m.appendErrorAndCheckLocked()
	}
}

// RecordError appends an error event (not tied to a specific trade) and
// re-evaluates the circuit breaker.
func (m *Manager) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount++
	m.logger.Debug("error recorded", "kind", kind)
	m.appendErrorAndCheckLocked()
}

// appendErrorAndCheckLocked must be called with mu held. It appends the
// current time to the error-time ring, counts how many fall within the
// trailing circuit-breaker window, and trips the breaker if the count
// reaches the configured threshold.
func (m *Manager) appendErrorAndCheckLocked() {
	now := time.Now()
	m.errorTimes = append(m.errorTimes, now)

	cutoff := now.Add(-m.cfg.CircuitBreakerWindow)
	kept := m.errorTimes[:0]
	for _, t := range m.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.errorTimes = kept

	threshold := m.cfg.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 10
	}
	if len(m.errorTimes) >= threshold && !m.breakerActive {
		m.breakerActive = true
		m.breakerTriggeredAt = now
		m.logger.Error("circuit breaker tripped",
			"count", len(m.errorTimes), "window", m.cfg.CircuitBreakerWindow)
		if m.onEmergency != nil {
			m.onEmergency(Emergency{
				Kind:   CircuitBreakerTripped,
				Count:  len(m.errorTimes),
				Window: m.cfg.CircuitBreakerWindow,
			})
		}
	}
}

// Status is a diagnostic snapshot for status reports.
type Status struct {
	DailyPnL      decimal.Decimal
	TradeCount    int
	ErrorCount    int
	BreakerActive bool
}

// Snapshot returns the current Risk Gate state.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		DailyPnL:      m.dailyPnL,
		TradeCount:    m.tradeCount,
		ErrorCount:    m.errorCount,
		BreakerActive: m.breakerActive,
	}
}
