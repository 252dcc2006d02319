package venuel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"lighter-arb/internal/book"
	"lighter-arb/internal/config"
	"lighter-arb/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newDryRunClient() *Client {
	cfg := config.VenueLConfig{
		MarketIndex:      0,
		OrderRateLimit:   2,
		OrderRateBurst:   10,
		AccountRateLimit: 1,
		AccountRateBurst: 5,
	}
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(cfg),
		logger: testLogger(),
		cfg:    cfg,
		Stream: newStream(config.VenueLConfig{}, testLogger()),
	}
}

func TestPlaceAggressiveDryRun(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	res := c.PlaceAggressive(context.Background(), types.Buy, d("0.001"), d("100"))
	if !res.OK {
		t.Errorf("PlaceAggressive() OK = false, want true in dry-run, err=%q", res.Err)
	}
	if res.OrderID == "" {
		t.Error("PlaceAggressive() OrderID empty in dry-run")
	}
}

func TestPlaceAggressiveDerivesPriceFromTop(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	store := book.New()
	store.ApplyTopOfBook(types.VenueL, types.Quote{Bid: d("100"), Ask: d("100.2")})
	c.Stream.AttachBookStore(store)

	res := c.PlaceAggressive(context.Background(), types.Buy, d("0.001"), decimal.Zero)
	if !res.OK {
		t.Fatalf("PlaceAggressive() failed: %s", res.Err)
	}
}

func TestPlaceAggressiveFailsWithoutTopOfBook(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	res := c.PlaceAggressive(context.Background(), types.Sell, d("0.001"), decimal.Zero)
	if res.OK {
		t.Error("PlaceAggressive() succeeded with no top-of-book and no explicit price")
	}
	if res.Err == "" {
		t.Error("PlaceAggressive() Err empty on failure")
	}
}

func accountServer(t *testing.T, availableBalance string, positions []types.VenueLPosition) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := types.VenueLAccount{
			Accounts: []struct {
				AvailableBalance string                 `json:"available_balance"`
				Positions        []types.VenueLPosition `json:"positions"`
			}{
				{AvailableBalance: availableBalance, Positions: positions},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func clientAgainst(srv *httptest.Server, marketIndex int) *Client {
	cfg := config.VenueLConfig{BaseURL: srv.URL, MarketIndex: marketIndex}
	return NewClient(cfg, &Auth{}, false, testLogger())
}

func TestGetPositionMatchesMarketIndex(t *testing.T) {
	t.Parallel()
	srv := accountServer(t, "1000", []types.VenueLPosition{
		{MarketIndex: 0, Size: "0.01", IsLong: true},
		{MarketIndex: 1, Size: "0.02", IsLong: false},
	})
	defer srv.Close()

	c := clientAgainst(srv, 1)
	pos, err := c.GetPosition(context.Background())
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !pos.Equal(d("-0.02")) {
		t.Errorf("GetPosition() = %s, want -0.02", pos)
	}
}

func TestGetPositionNoMatchingMarket(t *testing.T) {
	t.Parallel()
	srv := accountServer(t, "1000", []types.VenueLPosition{
		{MarketIndex: 5, Size: "0.01", IsLong: true},
	})
	defer srv.Close()

	c := clientAgainst(srv, 0)
	pos, err := c.GetPosition(context.Background())
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !pos.IsZero() {
		t.Errorf("GetPosition() = %s, want 0", pos)
	}
}

func TestGetBalance(t *testing.T) {
	t.Parallel()
	srv := accountServer(t, "500.25", nil)
	defer srv.Close()

	c := clientAgainst(srv, 0)
	bal := c.GetBalance(context.Background())
	if !bal.Equal(d("500.25")) {
		t.Errorf("GetBalance() = %s, want 500.25", bal)
	}
}

func TestGetBalanceFailureReturnsZero(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.VenueLConfig{BaseURL: srv.URL}
	c := NewClient(cfg, &Auth{}, false, testLogger())
	c.http.SetRetryCount(0)

	bal := c.GetBalance(context.Background())
	if !bal.IsZero() {
		t.Errorf("GetBalance() = %s, want 0 on failure", bal)
	}
}

func TestFlattenNoOpUnderDust(t *testing.T) {
	t.Parallel()
	srv := accountServer(t, "0", []types.VenueLPosition{
		{MarketIndex: 0, Size: "0.00001", IsLong: true},
	})
	defer srv.Close()

	c := clientAgainst(srv, 0)
	res := c.Flatten(context.Background())
	if !res.OK {
		t.Errorf("Flatten() OK = false for dust position, err=%q", res.Err)
	}
	if res.OrderID != "" {
		t.Error("Flatten() placed an order for a dust position")
	}
}

func TestFlattenPlacesOppositeSide(t *testing.T) {
	t.Parallel()
	srv := accountServer(t, "0", []types.VenueLPosition{
		{MarketIndex: 0, Size: "0.01", IsLong: true},
	})
	defer srv.Close()

	cfg := config.VenueLConfig{BaseURL: srv.URL, MarketIndex: 0}
	c := NewClient(cfg, &Auth{}, true, testLogger()) // dry-run so PlaceAggressive doesn't need real POST target
	store := book.New()
	store.ApplyTopOfBook(types.VenueL, types.Quote{Bid: d("100"), Ask: d("100.2")})
	c.Stream.AttachBookStore(store)

	res := c.Flatten(context.Background())
	if !res.OK {
		t.Fatalf("Flatten() failed: %s", res.Err)
	}
}
