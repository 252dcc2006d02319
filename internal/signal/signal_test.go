package signal

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"lighter-arb/internal/book"
	"lighter-arb/internal/config"
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Ticker:            "BTC",
		OrderQuantity:     d("0.001"),
		MaxPosition:       d("0.01"),
		LongThreshold:     d("10"),
		ShortThreshold:    d("10"),
		ThresholdOffset:   d("1"),
		MinSamples:        3,
		MinSignalInterval: 0,
		TickSize:          d("0.1"),
	}
}

func seedBooks(store *book.Store, fBid, fAsk, lBid, lAsk string) {
	store.ApplyTopOfBook(types.VenueF, types.Quote{Bid: d(fBid), Ask: d(fAsk)})
	store.ApplyTopOfBook(types.VenueL, types.Quote{Bid: d(lBid), Ask: d(lAsk)})
}

// sampleThrough seeds the given quotes and runs MinSamples checks, so the
// engine leaves its sampling phase with thresholds of mean(spread) + offset
// learned from those quotes.
func sampleThrough(t *testing.T, e *Engine, store *book.Store, fBid, fAsk, lBid, lAsk string) {
	t.Helper()
	seedBooks(store, fBid, fAsk, lBid, lAsk)
	for i := 0; i < testStrategyConfig().MinSamples; i++ {
		if _, ok := e.Check(0, decimal.Zero); ok {
			t.Fatalf("Check() emitted a signal during sampling phase (sample %d)", i)
		}
	}
}

func TestSamplingGateBlocksSignalsUntilMinSamples(t *testing.T) {
	t.Parallel()
	store := book.New()
	seedBooks(store, "100", "100.2", "130", "130.2")
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()

	for i := 0; i < 2; i++ {
		if _, ok := e.Check(0, decimal.Zero); ok {
			t.Fatalf("Check() emitted a signal during sampling phase (sample %d)", i)
		}
	}
	if !e.Status().IsSampling {
		t.Fatal("Status().IsSampling = false before min_samples reached")
	}
}

func TestSamplingCompletesAndEmitsLong(t *testing.T) {
	t.Parallel()
	store := book.New()
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()
	// Sampling sees long spread 100.1 - 100.2 = -0.1, so the long threshold
	// settles at -0.1 + 1 = 0.9. The next long spread is L.bid - F.ask =
	// 130 - 100.2 = 29.8, far above it.
	sampleThrough(t, e, store, "100", "100.2", "100.1", "100.3")
	seedBooks(store, "100", "100.2", "130", "130.2")

	var sig types.Signal
	var ok bool
	for i := 0; i < 5; i++ {
		sig, ok = e.Check(0, decimal.Zero)
		if ok {
			break
		}
	}
	if !ok {
		t.Fatal("Check() never emitted a signal after sampling should have completed")
	}
	if sig.Direction != types.DirLong {
		t.Errorf("Direction = %v, want long", sig.Direction)
	}
	if sig.FSide != types.Buy || sig.LSide != types.Sell {
		t.Errorf("FSide/LSide = %v/%v, want buy/sell", sig.FSide, sig.LSide)
	}
	if !sig.FPrice.Equal(d("100.1")) {
		t.Errorf("FPrice = %s, want 100.1 (ask - tick)", sig.FPrice)
	}
	if sig.ClientOrderID == "" {
		t.Error("ClientOrderID is empty")
	}
}

func TestSamplingCompletesAndEmitsShort(t *testing.T) {
	t.Parallel()
	store := book.New()
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()
	// Sampling sees short spread 100 - 100.3 = -0.3, so the short threshold
	// settles at -0.3 + 1 = 0.7. The next short spread is F.bid - L.ask =
	// 129.8 - 100.2 = 29.6.
	sampleThrough(t, e, store, "100", "100.2", "100.1", "100.3")
	seedBooks(store, "129.8", "130", "100", "100.2")

	var sig types.Signal
	var ok bool
	for i := 0; i < 5; i++ {
		sig, ok = e.Check(0, decimal.Zero)
		if ok {
			break
		}
	}
	if !ok {
		t.Fatal("Check() never emitted a signal")
	}
	if sig.Direction != types.DirShort {
		t.Errorf("Direction = %v, want short", sig.Direction)
	}
	if sig.FSide != types.Sell || sig.LSide != types.Buy {
		t.Errorf("FSide/LSide = %v/%v, want sell/buy", sig.FSide, sig.LSide)
	}
	if !sig.FPrice.Equal(d("129.9")) {
		t.Errorf("FPrice = %s, want 129.9 (bid + tick)", sig.FPrice)
	}
}

func TestLongEvaluatedBeforeShort(t *testing.T) {
	t.Parallel()
	store := book.New()
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()
	// Sampling sees long = 100 - 105 = -5 and short = 100 - 105 = -5, so
	// both thresholds settle at -5 + 1 = -4. The next quotes give
	// long = 100.1 - 100.2 = -0.1 and short = 100 - 100.3 = -0.3: both
	// clear their threshold, and long must win.
	sampleThrough(t, e, store, "100", "105", "100", "105")
	seedBooks(store, "100", "100.2", "100.1", "100.3")

	var sig types.Signal
	for i := 0; i < 5; i++ {
		if s, ok := e.Check(0, decimal.Zero); ok {
			sig = s
			break
		}
	}
	if sig.Direction != types.DirLong {
		t.Errorf("Direction = %v, want long", sig.Direction)
	}
}

func TestCheckRejectsWhenStopped(t *testing.T) {
	t.Parallel()
	store := book.New()
	seedBooks(store, "100", "100.2", "130", "130.2")
	e := New(testStrategyConfig(), store, testLogger())
	// Never started.
	if _, ok := e.Check(0, decimal.Zero); ok {
		t.Error("Check() emitted a signal before Start()")
	}
}

func TestPauseSuppressesSignalsButResumeRestores(t *testing.T) {
	t.Parallel()
	store := book.New()
	cfg := testStrategyConfig()
	cfg.MinSignalInterval = 0
	e := New(cfg, store, testLogger())
	e.Start()

	sampleThrough(t, e, store, "100", "100.2", "100.1", "100.3")
	seedBooks(store, "100", "100.2", "130", "130.2")
	e.Pause()
	if _, ok := e.Check(0, decimal.Zero); ok {
		t.Error("Check() emitted a signal while paused")
	}
	e.Resume()

	found := false
	for i := 0; i < 3; i++ {
		if _, ok := e.Check(0, decimal.Zero); ok {
			found = true
			break
		}
	}
	if !found {
		t.Error("Check() never emitted a signal after Resume()")
	}
}

func TestMinSignalIntervalThrottles(t *testing.T) {
	t.Parallel()
	store := book.New()
	cfg := testStrategyConfig()
	cfg.MinSignalInterval = time.Hour
	e := New(cfg, store, testLogger())
	e.Start()
	sampleThrough(t, e, store, "100", "100.2", "100.1", "100.3")
	seedBooks(store, "100", "100.2", "130", "130.2")

	firstFired := false
	for i := 0; i < 3; i++ {
		if _, ok := e.Check(0, decimal.Zero); ok {
			firstFired = true
			break
		}
	}
	if !firstFired {
		t.Fatal("first signal never fired")
	}
	if _, ok := e.Check(0, decimal.Zero); ok {
		t.Error("Check() emitted a second signal inside min_signal_interval")
	}
}

func TestMaxPositionBlocksLong(t *testing.T) {
	t.Parallel()
	store := book.New()
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()
	// Long spread 29.8 clears the learned 0.9 threshold; only the cap
	// stands in the way.
	sampleThrough(t, e, store, "100", "100.2", "100.1", "100.3")
	seedBooks(store, "100", "100.2", "130", "130.2")

	atCap := d("0.01") // equals MaxPosition
	for i := 0; i < 5; i++ {
		if _, ok := e.Check(0, atCap); ok {
			t.Fatal("Check() emitted a long signal with F-position already at max")
		}
	}
}

func TestResetSamplingRestoresBaseThresholdsAndHistory(t *testing.T) {
	t.Parallel()
	store := book.New()
	seedBooks(store, "100", "100.2", "130", "130.2")
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()

	for i := 0; i < 5; i++ {
		e.Check(0, decimal.Zero)
	}
	e.ResetSampling()

	st := e.Status()
	if !st.IsSampling {
		t.Error("Status().IsSampling = false after ResetSampling()")
	}
	if st.SampleCount != 0 {
		t.Errorf("SampleCount = %d after ResetSampling(), want 0", st.SampleCount)
	}
	if !st.LongThreshold.Equal(d("10")) {
		t.Errorf("LongThreshold = %s after ResetSampling(), want base 10", st.LongThreshold)
	}
}

func TestLatencyWidensThreshold(t *testing.T) {
	t.Parallel()
	store := book.New()
	e := New(testStrategyConfig(), store, testLogger())
	e.Start()
	sampleThrough(t, e, store, "100", "100.2", "100.1", "100.3")

	// Long spread = 101.2 - 100.2 = 1.0 against a learned threshold of
	// -0.1 + 1 = 0.9. A 150ms latency adds floor(150/50)*0.1 = 0.3, so the
	// adaptive threshold of 1.2 blocks it; with no latency it fires.
	seedBooks(store, "100", "100.2", "101.2", "101.4")
	if _, ok := e.Check(150, decimal.Zero); ok {
		t.Error("Check() emitted a signal below the latency-widened threshold")
	}
	if _, ok := e.Check(0, decimal.Zero); !ok {
		t.Error("Check() did not emit once latency no longer widened the threshold")
	}

	// A large spread (130 - 100.2 = 29.8) still clears the widened threshold.
	seedBooks(store, "100", "100.2", "130", "130.2")
	found := false
	for i := 0; i < 5; i++ {
		if _, ok := e.Check(150, decimal.Zero); ok {
			found = true
			break
		}
	}
	if !found {
		t.Error("Check() never emitted a signal even with latency-widened threshold")
	}
}
