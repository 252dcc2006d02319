// Package book maintains the two top-of-book quotes — one per venue —
// that the signal engine reads each cycle, and derives the long/short
// cross-venue spreads from them.
//
// Each venue's book is guarded by its own lock so an update on one venue
// never blocks a reader of the other, mirroring the per-venue locking the
// reference order book manager uses.
package book

import (
	"sort"
	"sync"
	"time"

	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

// Store holds the latest top-of-book quote plus the full book per venue.
type Store struct {
	f venueBook
	l venueBook
}

type venueBook struct {
	mu    sync.RWMutex
	top   types.Quote
	ready bool
	bids  map[string]types.PriceLevel // keyed by price.String()
	asks  map[string]types.PriceLevel
}

// New creates an empty Store with no ready venue.
func New() *Store {
	return &Store{
		f: venueBook{bids: make(map[string]types.PriceLevel), asks: make(map[string]types.PriceLevel)},
		l: venueBook{bids: make(map[string]types.PriceLevel), asks: make(map[string]types.PriceLevel)},
	}
}

func (s *Store) venue(v types.Venue) *venueBook {
	if v == types.VenueF {
		return &s.f
	}
	return &s.l
}

// ApplySnapshot replaces the full book for venue with bids/asks and
// recomputes its top-of-book.
func (s *Store) ApplySnapshot(v types.Venue, bids, asks []types.PriceLevel) {
	vb := s.venue(v)
	vb.mu.Lock()
	defer vb.mu.Unlock()

	vb.bids = make(map[string]types.PriceLevel, len(bids))
	vb.asks = make(map[string]types.PriceLevel, len(asks))
	for _, l := range bids {
		if l.Size.IsPositive() {
			vb.bids[l.Price.String()] = l
		}
	}
	for _, l := range asks {
		if l.Size.IsPositive() {
			vb.asks[l.Price.String()] = l
		}
	}
	vb.recomputeTop()
}

// ApplyDiff applies incremental level changes to venue's book. A level
// with zero (or non-positive) size deletes that price from the book.
func (s *Store) ApplyDiff(v types.Venue, bids, asks []types.PriceLevel) {
	vb := s.venue(v)
	vb.mu.Lock()
	defer vb.mu.Unlock()

	for _, l := range bids {
		applyLevel(vb.bids, l)
	}
	for _, l := range asks {
		applyLevel(vb.asks, l)
	}
	vb.recomputeTop()
}

func applyLevel(side map[string]types.PriceLevel, l types.PriceLevel) {
	key := l.Price.String()
	if l.Size.IsPositive() {
		side[key] = l
	} else {
		delete(side, key)
	}
}

// ApplyTopOfBook sets venue's top-of-book directly, bypassing the
// underlying book — used when a venue only streams BBO, not full depth.
// A quote with bid >= ask is rejected and does not update state.
func (s *Store) ApplyTopOfBook(v types.Venue, q types.Quote) {
	if !q.Valid() {
		return
	}
	vb := s.venue(v)
	vb.mu.Lock()
	defer vb.mu.Unlock()
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	vb.top = q
	vb.ready = true
}

func (vb *venueBook) recomputeTop() {
	bestBid, haveBid := bestPrice(vb.bids, true)
	bestAsk, haveAsk := bestPrice(vb.asks, false)
	if !haveBid || !haveAsk {
		return
	}
	q := types.Quote{
		Bid:       bestBid.Price,
		Ask:       bestAsk.Price,
		BidSize:   bestBid.Size,
		AskSize:   bestAsk.Size,
		Timestamp: time.Now(),
	}
	if !q.Valid() {
		return
	}
	vb.top = q
	vb.ready = true
}

// bestPrice returns the highest level if highest is true (best bid), else
// the lowest (best ask).
func bestPrice(side map[string]types.PriceLevel, highest bool) (types.PriceLevel, bool) {
	if len(side) == 0 {
		return types.PriceLevel{}, false
	}
	levels := make([]types.PriceLevel, 0, len(side))
	for _, l := range side {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool {
		if highest {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels[0], true
}

// Top returns venue's current top-of-book quote. ok is false if the
// venue has not produced a valid quote yet.
func (s *Store) Top(v types.Venue) (types.Quote, bool) {
	vb := s.venue(v)
	vb.mu.RLock()
	defer vb.mu.RUnlock()
	return vb.top, vb.ready
}

// Ready reports whether both venues have a valid top-of-book quote.
func (s *Store) Ready() bool {
	s.f.mu.RLock()
	fReady := s.f.ready
	s.f.mu.RUnlock()

	s.l.mu.RLock()
	lReady := s.l.ready
	s.l.mu.RUnlock()

	return fReady && lReady
}

// Spreads returns (longSpread, shortSpread) derived from both venues'
// top-of-book. ok is false if either venue is not ready.
//
//	longSpread  = L.bid - F.ask  (profit from buying F, selling L)
//	shortSpread = F.bid - L.ask  (profit from selling F, buying L)
func (s *Store) Spreads() (long, short decimal.Decimal, ok bool) {
	fTop, fOK := s.Top(types.VenueF)
	lTop, lOK := s.Top(types.VenueL)
	if !fOK || !lOK {
		return decimal.Zero, decimal.Zero, false
	}
	long = lTop.Bid.Sub(fTop.Ask)
	short = fTop.Bid.Sub(lTop.Ask)
	return long, short, true
}

// Status is a diagnostic snapshot of the Store, suitable for status
// reports and the bridge's status_report handling.
type Status struct {
	FReady      bool
	LReady      bool
	FTop        types.Quote
	LTop        types.Quote
	LongSpread  decimal.Decimal
	ShortSpread decimal.Decimal
	SpreadsOK   bool
}

// Snapshot returns a consistent Status for diagnostics/logging.
func (s *Store) Snapshot() Status {
	fTop, fOK := s.Top(types.VenueF)
	lTop, lOK := s.Top(types.VenueL)
	long, short, spreadsOK := s.Spreads()
	return Status{
		FReady:      fOK,
		LReady:      lOK,
		FTop:        fTop,
		LTop:        lTop,
		LongSpread:  long,
		ShortSpread: short,
		SpreadsOK:   spreadsOK,
	}
}
