// Package eventlog records the executor's session data for later
// analysis: one CSV file each for trades, BBO ticks, and strategy
// snapshots, plus a JSON-lines file for free-form events. Writes are
// buffered and flushed periodically or once a buffer fills, the same
// reduce-IO tradeoff the reference data logger makes.
package eventlog

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	tradesBufferSize    = 100
	bboBufferSize       = 100
	snapshotsBufferSize = 10
)

var (
	tradesHeader = []string{
		"timestamp", "datetime", "direction", "f_side", "l_side",
		"quantity", "f_price", "l_price", "spread", "threshold",
		"f_order_id", "l_order_id", "f_fill_time_ms", "l_fill_time_ms",
		"total_latency_ms", "pnl_estimate", "f_position_after",
		"l_position_after", "net_position_after", "status",
	}
	bboHeader = []string{
		"timestamp", "datetime", "f_bid", "f_ask", "l_bid", "l_ask",
		"long_spread", "short_spread", "long_threshold", "short_threshold",
	}
	snapshotsHeader = []string{
		"timestamp", "datetime", "is_running", "is_sampling", "samples_collected",
		"long_threshold", "short_threshold", "current_long_spread", "current_short_spread",
		"f_position", "l_position", "net_position",
		"signal_count", "trade_count", "success_count", "error_count",
		"daily_pnl", "avg_latency_ms", "latency_p95_ms",
	}
)

// TradeRecord is one completed (or failed) two-leg trade.
type TradeRecord struct {
	Direction       string
	FSide, LSide    string
	Quantity        decimal.Decimal
	FPrice, LPrice  decimal.Decimal
	Spread          decimal.Decimal
	Threshold       decimal.Decimal
	FOrderID        string
	LOrderID        string
	FFillTimeMs     int64
	LFillTimeMs     int64
	TotalLatencyMs  int64
	PnLEstimate     decimal.Decimal
	FPositionAfter  decimal.Decimal
	LPositionAfter  decimal.Decimal
	Status          string // success/partial/failed
}

// BBORecord is one top-of-book sample across both venues.
type BBORecord struct {
	FBid, FAsk, LBid, LAsk         decimal.Decimal
	LongSpread, ShortSpread        decimal.Decimal
	LongThreshold, ShortThreshold  decimal.Decimal
}

// SnapshotRecord is a point-in-time view of every component's state,
// taken periodically by the coordinator.
type SnapshotRecord struct {
	IsRunning          bool
	IsSampling         bool
	SamplesCollected   int
	LongThreshold      decimal.Decimal
	ShortThreshold     decimal.Decimal
	CurrentLongSpread  decimal.Decimal
	CurrentShortSpread decimal.Decimal
	FPosition          decimal.Decimal
	LPosition          decimal.Decimal
	NetPosition        decimal.Decimal
	SignalCount        int
	TradeCount         int
	SuccessCount       int
	ErrorCount         int
	DailyPnL           decimal.Decimal
	AvgLatencyMs       float64
	LatencyP95Ms       float64
}

// Logger writes session data to a per-run set of files under dir, named
// with the ticker and a session timestamp.
type Logger struct {
	dir    string
	ticker string

	tradesPath    string
	bboPath       string
	snapshotsPath string
	eventsPath    string

	mu                 sync.Mutex
	tradesBuf          []TradeRecord
	bboBuf             []BBORecord
	snapshotsBuf       []SnapshotRecord
	totalTrades        int
	totalBBO           int
	totalSnapshots     int
	recentTrades       []TradeRecord // bounded ring, capacity 100
}

// Open creates (or reuses) dir and begins a new session for ticker.
func Open(dir, ticker string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create eventlog dir: %w", err)
	}
	prefix := fmt.Sprintf("%s_%s", ticker, time.Now().Format("20060102_150405"))

	l := &Logger{
		dir:           dir,
		ticker:        ticker,
		tradesPath:    filepath.Join(dir, prefix+"_trades.csv"),
		bboPath:       filepath.Join(dir, prefix+"_bbo.csv"),
		snapshotsPath: filepath.Join(dir, prefix+"_snapshots.csv"),
		eventsPath:    filepath.Join(dir, prefix+"_events.jsonl"),
	}
	if err := l.initFile(l.tradesPath, tradesHeader); err != nil {
		return nil, err
	}
	if err := l.initFile(l.bboPath, bboHeader); err != nil {
		return nil, err
	}
	if err := l.initFile(l.snapshotsPath, snapshotsHeader); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) initFile(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header for %s: %w", path, err)
	}
	w.Flush()
	return w.Error()
}

// Run periodically flushes buffered records until stop is closed, then
// flushes once more. Call it in a goroutine.
func (l *Logger) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			l.Flush()
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

// LogTrade appends a trade record, flushing if the buffer is full.
func (l *Logger) LogTrade(r TradeRecord) {
	l.mu.Lock()
	l.tradesBuf = append(l.tradesBuf, r)
	l.recentTrades = appendBoundedTrades(l.recentTrades, r, 100)
	l.totalTrades++
	full := len(l.tradesBuf) >= tradesBufferSize
	l.mu.Unlock()

	if full {
		l.flushTrades()
	}
}

// LogBBO appends a BBO record, flushing if the buffer is full.
func (l *Logger) LogBBO(r BBORecord) {
	l.mu.Lock()
	l.bboBuf = append(l.bboBuf, r)
	l.totalBBO++
	full := len(l.bboBuf) >= bboBufferSize
	l.mu.Unlock()

	if full {
		l.flushBBO()
	}
}

// LogSnapshot appends a snapshot record, flushing if the buffer is full.
func (l *Logger) LogSnapshot(r SnapshotRecord) {
	l.mu.Lock()
	l.snapshotsBuf = append(l.snapshotsBuf, r)
	l.totalSnapshots++
	full := len(l.snapshotsBuf) >= snapshotsBufferSize
	l.mu.Unlock()

	if full {
		l.flushSnapshots()
	}
}

// LogEvent appends one JSON-lines event. Events are written immediately,
// not buffered, since they are comparatively rare and valuable for
// post-mortem debugging.
func (l *Logger) LogEvent(eventType string, data interface{}) error {
	event := struct {
		Timestamp float64     `json:"timestamp"`
		DateTime  string      `json:"datetime"`
		Type      string      `json:"type"`
		Data      interface{} `json:"data"`
	}{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		DateTime:  time.Now().Format(time.RFC3339Nano),
		Type:      eventType,
		Data:      data,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.eventsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Flush writes out all buffered records.
func (l *Logger) Flush() {
	l.flushTrades()
	l.flushBBO()
	l.flushSnapshots()
}

func (l *Logger) flushTrades() {
	l.mu.Lock()
	buf := l.tradesBuf
	l.tradesBuf = nil
	l.mu.Unlock()
	if len(buf) == 0 {
		return
	}

	rows := make([][]string, 0, len(buf))
	for _, r := range buf {
		rows = append(rows, []string{
			nowTimestampString(), nowDateTimeString(), r.Direction, r.FSide, r.LSide,
			r.Quantity.String(), r.FPrice.String(), r.LPrice.String(), r.Spread.String(),
			r.Threshold.String(), r.FOrderID, r.LOrderID,
			fmt.Sprintf("%d", r.FFillTimeMs), fmt.Sprintf("%d", r.LFillTimeMs),
			fmt.Sprintf("%d", r.TotalLatencyMs), r.PnLEstimate.String(),
			r.FPositionAfter.String(), r.LPositionAfter.String(),
			r.FPositionAfter.Add(r.LPositionAfter).String(), r.Status,
		})
	}
	appendCSVRows(l.tradesPath, rows)
}

func (l *Logger) flushBBO() {
	l.mu.Lock()
	buf := l.bboBuf
	l.bboBuf = nil
	l.mu.Unlock()
	if len(buf) == 0 {
		return
	}

	rows := make([][]string, 0, len(buf))
	for _, r := range buf {
		rows = append(rows, []string{
			nowTimestampString(), nowDateTimeString(),
			r.FBid.String(), r.FAsk.String(), r.LBid.String(), r.LAsk.String(),
			r.LongSpread.String(), r.ShortSpread.String(),
			r.LongThreshold.String(), r.ShortThreshold.String(),
		})
	}
	appendCSVRows(l.bboPath, rows)
}

func (l *Logger) flushSnapshots() {
	l.mu.Lock()
	buf := l.snapshotsBuf
	l.snapshotsBuf = nil
	l.mu.Unlock()
	if len(buf) == 0 {
		return
	}

	rows := make([][]string, 0, len(buf))
	for _, r := range buf {
		rows = append(rows, []string{
			nowTimestampString(), nowDateTimeString(),
			fmt.Sprintf("%v", r.IsRunning), fmt.Sprintf("%v", r.IsSampling),
			fmt.Sprintf("%d", r.SamplesCollected),
			r.LongThreshold.String(), r.ShortThreshold.String(),
			r.CurrentLongSpread.String(), r.CurrentShortSpread.String(),
			r.FPosition.String(), r.LPosition.String(), r.NetPosition.String(),
			fmt.Sprintf("%d", r.SignalCount), fmt.Sprintf("%d", r.TradeCount),
			fmt.Sprintf("%d", r.SuccessCount), fmt.Sprintf("%d", r.ErrorCount),
			r.DailyPnL.String(), fmt.Sprintf("%.3f", r.AvgLatencyMs), fmt.Sprintf("%.3f", r.LatencyP95Ms),
		})
	}
	appendCSVRows(l.snapshotsPath, rows)
}

// appendCSVRows opens path in append mode and writes rows through a
// buffered writer, matching the session-append pattern every CSV file
// in this package uses — full atomic replace-on-write doesn't fit an
// append-only session log, unlike the teacher's whole-file position
// snapshots.
func appendCSVRows(path string, rows [][]string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	for _, row := range rows {
		_ = w.Write(row)
	}
	w.Flush()
	bw.Flush()
}

func appendBoundedTrades(ring []TradeRecord, r TradeRecord, capAt int) []TradeRecord {
	ring = append(ring, r)
	if len(ring) > capAt {
		ring = ring[len(ring)-capAt:]
	}
	return ring
}

func nowTimestampString() string {
	return fmt.Sprintf("%.6f", float64(time.Now().UnixNano())/1e9)
}

func nowDateTimeString() string {
	return time.Now().Format("2006-01-02 15:04:05.000")
}

// Summary reports session totals and file locations.
type Summary struct {
	Ticker        string
	TradesPath    string
	BBOPath       string
	SnapshotsPath string
	EventsPath    string
	TotalTrades   int
	TotalBBO      int
	TotalSnapshot int
}

func (l *Logger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		Ticker:        l.ticker,
		TradesPath:    l.tradesPath,
		BBOPath:       l.bboPath,
		SnapshotsPath: l.snapshotsPath,
		EventsPath:    l.eventsPath,
		TotalTrades:   l.totalTrades,
		TotalBBO:      l.totalBBO,
		TotalSnapshot: l.totalSnapshots,
	}
}

// Close flushes remaining buffers. Safe to call more than once.
func (l *Logger) Close() error {
	l.Flush()
	return nil
}
