package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"lighter-arb/internal/config"
	"lighter-arb/internal/ledger"
	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPosition:              d("0.01"),
		MaxPositionImbalance:     d("0.005"),
		MaxDailyLoss:             d("100"),
		MaxLatencyMs:             500,
		MaxErrorRate:             0.1,
		MinBalance:               d("10"),
		CircuitBreakerWindow:     60 * time.Second,
		CircuitBreakerThreshold:  10,
		CircuitBreakerResetAfter: 300 * time.Second,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

func longSignal(qty string) types.Signal {
	return types.Signal{
		Direction: types.DirLong,
		FSide:     types.Buy,
		LSide:     types.Sell,
		Quantity:  d(qty),
	}
}

func shortSignal(qty string) types.Signal {
	return types.Signal{
		Direction: types.DirShort,
		FSide:     types.Sell,
		LSide:     types.Buy,
		Quantity:  d(qty),
	}
}

func TestAdmitUnderLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()

	if !rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = false, want true under all limits")
	}
}

func TestAdmitRejectsPositionLimit(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()
	led.Set(types.VenueF, d("0.0095"))

	if rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = true, want false: post-trade position exceeds max")
	}
}

func TestAdmitRejectsShortPositionLimit(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()
	led.Set(types.VenueF, d("-0.0095"))

	if rm.Admit(shortSignal("0.001"), led) {
		t.Error("Admit() = true, want false: post-trade short position exceeds -max")
	}
}

func TestAdmitRejectsImbalance(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()
	// net = 0.01, imbalance 0.01 > 0.005; post-trade F of 0.0051 stays
	// inside the 0.01 position limit, so the imbalance check is what rejects.
	led.Set(types.VenueF, d("0.005"))
	led.Set(types.VenueL, d("0.005"))

	if rm.Admit(longSignal("0.0001"), led) {
		t.Error("Admit() = true, want false: imbalance over limit")
	}
}

func TestAdmitRejectsDailyLoss(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()

	rm.RecordTrade(true, d("-150"))

	if rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = true, want false: daily loss exceeds limit")
	}
}

func TestAdmitRejectsErrorRate(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()

	// 11 trades, 2 failures: rate = 2/11 ≈ 0.18 > 0.1 threshold. Trade
	// count must exceed 10 before the check engages.
	for i := 0; i < 9; i++ {
		rm.RecordTrade(true, decimal.Zero)
	}
	rm.RecordTrade(false, decimal.Zero)
	rm.RecordTrade(false, decimal.Zero)

	if rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = true, want false: error rate over limit")
	}
}

func TestErrorRateCheckSkippedUnderTenTrades(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()

	rm.RecordTrade(false, decimal.Zero)
	rm.RecordTrade(false, decimal.Zero)

	if !rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = false, want true: error-rate check must not engage under 10 trades")
	}
}

func TestCircuitBreakerTripsAndRejects(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	led := ledger.New()

	var emergencies []Emergency
	rm.OnEmergency(func(e Emergency) { emergencies = append(emergencies, e) })

	for i := 0; i < 10; i++ {
		rm.RecordError("test_error")
	}

	if len(emergencies) != 1 {
		t.Fatalf("emergency handler called %d times, want 1", len(emergencies))
	}
	if emergencies[0].Kind != CircuitBreakerTripped {
		t.Errorf("emergency kind = %v, want %v", emergencies[0].Kind, CircuitBreakerTripped)
	}

	if rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = true, want false: circuit breaker should reject")
	}
}

func TestCircuitBreakerLazyAutoReset(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.cfg.CircuitBreakerResetAfter = 50 * time.Millisecond
	led := ledger.New()

	for i := 0; i < 10; i++ {
		rm.RecordError("test_error")
	}
	if rm.Admit(longSignal("0.001"), led) {
		t.Fatal("Admit() = true immediately after trip, want false")
	}

	time.Sleep(60 * time.Millisecond)

	// The call that crosses the reset threshold is itself admitted,
	// matching the reference implementation's lazy-reset semantics.
	if !rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = false, want true: breaker should auto-reset and admit on this call")
	}

	// And the breaker stays cleared afterward.
	if !rm.Admit(longSignal("0.001"), led) {
		t.Error("Admit() = false on the call after auto-reset, want true")
	}
}

func TestRecordTradeAccumulatesPnL(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.RecordTrade(true, d("5"))
	rm.RecordTrade(true, d("-2"))

	snap := rm.Snapshot()
	if !snap.DailyPnL.Equal(d("3")) {
		t.Errorf("DailyPnL = %s, want 3", snap.DailyPnL)
	}
	if snap.TradeCount != 2 {
		t.Errorf("TradeCount = %d, want 2", snap.TradeCount)
	}
}
