package eventlog

import (
	"bufio"
	"encoding/csv"
	"os"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv %s: %v", path, err)
	}
	return rows
}

func TestOpenCreatesHeaders(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	l, err := Open(dir, "BTC")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	rows := readCSV(t, l.tradesPath)
	if len(rows) != 1 || rows[0][0] != "timestamp" {
		t.Errorf("trades file header = %v", rows)
	}
}

func TestLogTradeFlushesAtBufferSize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := Open(dir, "BTC")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < tradesBufferSize; i++ {
		l.LogTrade(TradeRecord{
			Direction: "long", FSide: "buy", LSide: "sell",
			Quantity: d("0.001"), FPrice: d("100"), LPrice: d("100.1"),
			Spread: d("0.1"), Threshold: d("0.05"), Status: "success",
		})
	}

	rows := readCSV(t, l.tradesPath)
	if len(rows) != tradesBufferSize+1 { // header + rows
		t.Errorf("rows after auto-flush = %d, want %d", len(rows), tradesBufferSize+1)
	}
}

func TestFlushWritesPartialBuffer(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := Open(dir, "BTC")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.LogBBO(BBORecord{
		FBid: d("100"), FAsk: d("100.2"), LBid: d("100.1"), LAsk: d("100.3"),
		LongSpread: d("0.1"), ShortSpread: d("-0.1"),
		LongThreshold: d("10"), ShortThreshold: d("10"),
	})
	l.Flush()

	rows := readCSV(t, l.bboPath)
	if len(rows) != 2 {
		t.Fatalf("rows after Flush = %d, want 2 (header + 1)", len(rows))
	}
	if rows[1][2] != "100" {
		t.Errorf("f_bid = %q, want 100", rows[1][2])
	}
}

func TestLogSnapshotNetPositionColumn(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := Open(dir, "BTC")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.LogSnapshot(SnapshotRecord{
		IsRunning: true, IsSampling: false, SamplesCollected: 150,
		FPosition: d("0.01"), LPosition: d("-0.01"), NetPosition: d("0"),
	})
	l.Flush()

	rows := readCSV(t, l.snapshotsPath)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	const netPositionCol = 11
	if rows[0][netPositionCol] != "net_position" {
		t.Fatalf("header column %d = %q, want net_position", netPositionCol, rows[0][netPositionCol])
	}
	if rows[1][netPositionCol] != "0" {
		t.Errorf("net_position = %q, want 0", rows[1][netPositionCol])
	}
}

func TestLogEventWritesJSONLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := Open(dir, "BTC")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.LogEvent("frontend_disconnect", map[string]string{"exchange": "edgex"}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	f, err := os.Open(l.eventsPath)
	if err != nil {
		t.Fatalf("open events file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("no event line written")
	}
}

func TestSummaryReflectsCounts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l, err := Open(dir, "ETH")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	l.LogTrade(TradeRecord{Status: "success", Quantity: d("1"), FPrice: d("1"), LPrice: d("1"), Spread: d("1"), Threshold: d("1"), PnLEstimate: d("1"), FPositionAfter: d("1"), LPositionAfter: d("1")})
	l.LogBBO(BBORecord{FBid: d("1"), FAsk: d("1"), LBid: d("1"), LAsk: d("1"), LongSpread: d("1"), ShortSpread: d("1"), LongThreshold: d("1"), ShortThreshold: d("1")})

	s := l.Summary()
	if s.Ticker != "ETH" || s.TotalTrades != 1 || s.TotalBBO != 1 {
		t.Errorf("Summary = %+v", s)
	}
}
