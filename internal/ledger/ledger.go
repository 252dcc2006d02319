// Package ledger tracks signed position per venue and the derived
// neutrality metrics the risk gate and coordinator depend on.
//
// Grounded in the teacher's inventory tracker: a single mutex-guarded
// struct with total, non-failing methods, plus a bounded change history
// for diagnostics in place of the teacher's fill-by-fill PnL bookkeeping
// (position neutrality, not PnL attribution, is this spec's concern).
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lighter-arb/pkg/types"

	"github.com/shopspring/decimal"
)

const historyCapacity = 200

// Change is one recorded mutation, kept for diagnostics/status reporting.
type Change struct {
	Venue     types.Venue
	Delta     decimal.Decimal
	Resulting decimal.Decimal
	Timestamp time.Time
}

// PositionFetcher is the minimal venue-L capability SyncFromVenueL needs.
// Satisfied by the Venue-L Client; kept as an interface here so this
// package never imports internal/venuel.
type PositionFetcher interface {
	GetPosition(ctx context.Context) (decimal.Decimal, error)
}

// Ledger holds signed positions for venue F and venue L.
type Ledger struct {
	mu       sync.Mutex
	posF     decimal.Decimal
	posL     decimal.Decimal
	history  []Change
	histHead int
}

// New returns an empty Ledger with both positions at zero.
func New() *Ledger {
	return &Ledger{
		posF: decimal.Zero,
		posL: decimal.Zero,
	}
}

// Apply adds signedDelta to venue's position (positive = long, negative
// = short) and records the change.
func (l *Ledger) Apply(v types.Venue, signedDelta decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.get(v)
	next := cur.Add(signedDelta)
	l.set(v, next)
	l.record(v, signedDelta, next)
}

// Set replaces venue's position outright (used by SyncFromVenueL and
// test fixtures) and records the implied delta.
func (l *Ledger) Set(v types.Venue, signedSize decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.get(v)
	delta := signedSize.Sub(cur)
	l.set(v, signedSize)
	l.record(v, delta, signedSize)
}

// Get returns venue's current signed position.
func (l *Ledger) Get(v types.Venue) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(v)
}

func (l *Ledger) get(v types.Venue) decimal.Decimal {
	if v == types.VenueF {
		return l.posF
	}
	return l.posL
}

func (l *Ledger) set(v types.Venue, val decimal.Decimal) {
	if v == types.VenueF {
		l.posF = val
	} else {
		l.posL = val
	}
}

func (l *Ledger) record(v types.Venue, delta, resulting decimal.Decimal) {
	c := Change{Venue: v, Delta: delta, Resulting: resulting, Timestamp: time.Now()}
	if len(l.history) < historyCapacity {
		l.history = append(l.history, c)
		return
	}
	l.history[l.histHead] = c
	l.histHead = (l.histHead + 1) % historyCapacity
}

// Net returns posF + posL — the net directional exposure across venues.
// A fully hedged book has net() == 0.
func (l *Ledger) Net() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.posF.Add(l.posL)
}

// Imbalance returns |net()|.
func (l *Ledger) Imbalance() decimal.Decimal {
	return l.Net().Abs()
}

// Exposure returns (|posF| + |posL|) / 2.
func (l *Ledger) Exposure() decimal.Decimal {
	l.mu.Lock()
	fAbs := l.posF.Abs()
	lAbs := l.posL.Abs()
	l.mu.Unlock()
	return fAbs.Add(lAbs).Div(decimal.NewFromInt(2))
}

// History returns a copy of the recorded changes in insertion order
// (oldest first once the ring has wrapped).
func (l *Ledger) History() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.history) < historyCapacity {
		out := make([]Change, len(l.history))
		copy(out, l.history)
		return out
	}
	out := make([]Change, historyCapacity)
	copy(out, l.history[l.histHead:])
	copy(out[historyCapacity-l.histHead:], l.history[:l.histHead])
	return out
}

// SyncFromVenueL queries venue L's position endpoint via fetcher and
// replaces the cached L-side position. On transport failure the cached
// value is retained and the error is returned.
func (l *Ledger) SyncFromVenueL(ctx context.Context, fetcher PositionFetcher) error {
	pos, err := fetcher.GetPosition(ctx)
	if err != nil {
		return fmt.Errorf("sync venue L position: %w", err)
	}
	l.Set(types.VenueL, pos)
	return nil
}
