package book

import (
	"testing"

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

func level(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: d(price), Size: d(size)}
}

func TestApplySnapshotAndTop(t *testing.T) {
	t.Parallel()
	s := New()

	s.ApplySnapshot(types.VenueF,
		[]types.PriceLevel{level("100.0", "5"), level("99.5", "10")},
		[]types.PriceLevel{level("100.5", "3")},
	)

	top, ok := s.Top(types.VenueF)
	if !ok {
		t.Fatal("Top(F) ok=false after snapshot")
	}
	if !top.Bid.Equal(d("100.0")) || !top.Ask.Equal(d("100.5")) {
		t.Errorf("top = %+v, want bid=100.0 ask=100.5", top)
	}
}

func TestApplyDiffZeroDeletes(t *testing.T) {
	t.Parallel()
	s := New()

	s.ApplySnapshot(types.VenueF,
		[]types.PriceLevel{level("100.0", "5")},
		[]types.PriceLevel{level("100.5", "3")},
	)
	s.ApplyDiff(types.VenueF,
		[]types.PriceLevel{level("100.0", "0"), level("99.0", "2")},
		nil,
	)

	top, ok := s.Top(types.VenueF)
	if !ok {
		t.Fatal("Top(F) ok=false after diff")
	}
	if !top.Bid.Equal(d("99.0")) {
		t.Errorf("bid = %s, want 99.0 (best bid deleted)", top.Bid)
	}
}

func TestApplyTopOfBookRejectsCrossed(t *testing.T) {
	t.Parallel()
	s := New()

	s.ApplyTopOfBook(types.VenueL, types.Quote{Bid: d("101"), Ask: d("100")})
	if _, ok := s.Top(types.VenueL); ok {
		t.Error("crossed quote should not update state")
	}
}

func TestReadyRequiresBothVenues(t *testing.T) {
	t.Parallel()
	s := New()

	if s.Ready() {
		t.Error("Ready() true before any quotes")
	}
	s.ApplyTopOfBook(types.VenueF, types.Quote{Bid: d("100"), Ask: d("101")})
	if s.Ready() {
		t.Error("Ready() true with only F populated")
	}
	s.ApplyTopOfBook(types.VenueL, types.Quote{Bid: d("99"), Ask: d("100")})
	if !s.Ready() {
		t.Error("Ready() false after both venues populated")
	}
}

func TestSpreads(t *testing.T) {
	t.Parallel()
	s := New()

	if _, _, ok := s.Spreads(); ok {
		t.Error("Spreads() ok=true before any quotes")
	}

	s.ApplyTopOfBook(types.VenueF, types.Quote{Bid: d("100"), Ask: d("101")})
	s.ApplyTopOfBook(types.VenueL, types.Quote{Bid: d("102"), Ask: d("103")})

	long, short, ok := s.Spreads()
	if !ok {
		t.Fatal("Spreads() ok=false with both venues ready")
	}
	// long = L.bid - F.ask = 102 - 101 = 1
	if !long.Equal(d("1")) {
		t.Errorf("long spread = %s, want 1", long)
	}
	// short = F.bid - L.ask = 100 - 103 = -3
	if !short.Equal(d("-3")) {
		t.Errorf("short spread = %s, want -3", short)
	}
}
