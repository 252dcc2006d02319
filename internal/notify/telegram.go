// Package notify pushes operator-facing notifications — trade fills,
// error alerts, circuit-breaker trips, and periodic status reports —
// to a Telegram chat over the Bot HTTP API.
//
// Unlike the reference bot, which pulls live state through a late-bound
// `self.system` reference set after construction, this sender is purely
// push: callers hand it a rendered message or, for the periodic report,
// a StatusSnapshot value. That keeps the dependency direction one-way
// (coordinator → notify) instead of the circular one the original
// carries.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"lighter-arb/internal/config"
)

const (
	queueCapacity   = 64
	minSendInterval = time.Second
)

// StatusSnapshot is the state the periodic status reporter renders.
// The coordinator assembles one from its components and passes it to
// StatusReport/RunStatusReports; notify never reaches back into other packages.
type StatusSnapshot struct {
	Running            bool
	SignalCount        int
	TradeCount         int
	ErrorCount         int
	DailyPnL           decimal.Decimal
	FPosition          decimal.Decimal
	LPosition          decimal.Decimal
	NetPosition        decimal.Decimal
	LongThreshold      decimal.Decimal
	ShortThreshold     decimal.Decimal
	CurrentLongSpread  decimal.Decimal
	CurrentShortSpread decimal.Decimal
	HealthScore        int
}

// Sender queues and sends Telegram messages at a rate-limited pace and
// fires a periodic status report. A Sender with an unconfigured token
// or chat id is inert: every queue/send call is a silent no-op, exactly
// like the reference bot's disabled-on-missing-credentials fallback.
type Sender struct {
	cfg     config.TelegramConfig
	http    *resty.Client
	baseURL string
	logger  *slog.Logger

	queue chan string

	messagesSent int
	errors       int
}

const defaultTelegramBaseURL = "https://api.telegram.org"

// New builds a Sender. It does not start the background sender —
// call Run in a goroutine to begin draining the queue.
func New(cfg config.TelegramConfig, logger *slog.Logger) *Sender {
	return &Sender{
		cfg:     cfg,
		http:    resty.New().SetTimeout(10 * time.Second),
		baseURL: defaultTelegramBaseURL,
		logger:  logger.With("component", "notify"),
		queue:   make(chan string, queueCapacity),
	}
}

func (s *Sender) apiURL() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.cfg.BotToken)
}

// Queue enqueues a message for delivery. If the queue is full the
// message is dropped and logged, matching the reference bot's
// queue_message behavior on a full asyncio.Queue.
func (s *Sender) Queue(text string) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.queue <- text:
	default:
		s.logger.Warn("telegram message queue full, dropping message")
	}
}

// Run drains the queue, sending at most one message per
// minSendInterval, until stop is closed.
func (s *Sender) Run(stop <-chan struct{}) {
	if !s.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(minSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case text := <-s.queue:
			s.send(context.Background(), text)
			<-ticker.C
		}
	}
}

func (s *Sender) send(ctx context.Context, text string) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":                  s.cfg.GroupID,
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		}).
		Post(s.apiURL())

	if err != nil {
		s.errors++
		s.logger.Error("telegram send failed", "error", err)
		return
	}
	if resp.IsError() {
		s.errors++
		s.logger.Error("telegram API error", "status", resp.StatusCode(), "body", resp.String())
		return
	}
	s.messagesSent++
}

// ———————————————————————————————————————————————————————————————
// Message templates
// ———————————————————————————————————————————————————————————————

// Startup queues the system-started notice.
func (s *Sender) Startup() {
	s.Queue(fmt.Sprintf(
		"<b>Arbitrage executor started</b>\nAccount: <code>%s</code>\nTime: %s\nWaiting for front-end connection...",
		s.cfg.AccountLabel, time.Now().Format("2006-01-02 15:04:05"),
	))
}

// Shutdown sends (synchronously, bypassing the queue) the
// system-stopped notice so it reaches Telegram before the process
// exits.
func (s *Sender) Shutdown() {
	if !s.cfg.Enabled {
		return
	}
	s.send(context.Background(), fmt.Sprintf(
		"<b>Arbitrage executor shutting down</b>\nAccount: <code>%s</code>\nMessages sent this session: %d",
		s.cfg.AccountLabel, s.messagesSent,
	))
}

// FrontendConnected queues the front-end-ready notice.
func (s *Sender) FrontendConnected(ticker string) {
	s.Queue(fmt.Sprintf(
		"<b>Front end connected</b>\nAccount: <code>%s</code>\nTicker: <code>%s</code>\nSampling begun, waiting for a signal...",
		s.cfg.AccountLabel, ticker,
	))
}

// SamplingComplete queues the sampling-phase-complete notice.
func (s *Sender) SamplingComplete(samples int, longThreshold, shortThreshold decimal.Decimal) {
	s.Queue(fmt.Sprintf(
		"<b>Sampling complete</b>\nAccount: <code>%s</code>\nSamples: %d\nLong threshold: %s\nShort threshold: %s",
		s.cfg.AccountLabel, samples, longThreshold.StringFixed(2), shortThreshold.StringFixed(2),
	))
}

// Trade queues a fill notification with both legs' prices and the
// resulting positions.
func (s *Sender) Trade(direction, quantity, fPrice, lPrice, spread string, latencyMs int64, pnlEstimate, fPosition, lPosition string) {
	emoji := "\U0001F7E2"
	if direction != "long" {
		emoji = "\U0001F534"
	}
	s.Queue(fmt.Sprintf(
		"%s <b>Trade filled (%s)</b>\nAccount: <code>%s</code>\nQuantity: <code>%s</code>\nF: <code>%s</code>  L: <code>%s</code>\nSpread: <code>%s</code>  Latency: %dms\nF position: <code>%s</code>  L position: <code>%s</code>\nEstimated PnL: <code>%s</code>",
		emoji, direction, s.cfg.AccountLabel, quantity, fPrice, lPrice, spread, latencyMs, fPosition, lPosition, pnlEstimate,
	))
}

// ErrorAlert queues an error notification.
func (s *Sender) ErrorAlert(kind, message string) {
	s.Queue(fmt.Sprintf(
		"<b>Error</b>\nAccount: <code>%s</code>\nKind: <code>%s</code>\nMessage: %s",
		s.cfg.AccountLabel, kind, message,
	))
}

// CircuitBreaker queues the breaker-tripped CRITICAL alert.
func (s *Sender) CircuitBreaker(errorCount, windowSeconds int) {
	s.Queue(fmt.Sprintf(
		"<b>CIRCUIT BREAKER TRIPPED</b>\nAccount: <code>%s</code>\nErrors: %d in %ds\nAdmission paused for 300s; manual review recommended.",
		s.cfg.AccountLabel, errorCount, windowSeconds,
	))
}

// PositionImbalance queues the imbalance-alert notice.
func (s *Sender) PositionImbalance(fPos, lPos, netPos string) {
	s.Queue(fmt.Sprintf(
		"<b>Position imbalance</b>\nAccount: <code>%s</code>\nF: <code>%s</code>  L: <code>%s</code>  Net: <code>%s</code>",
		s.cfg.AccountLabel, fPos, lPos, netPos,
	))
}

// RunStatusReports fires snapshot on its own interval-driven ticker and
// queues the resulting StatusReport, independent of any other cadence
// in the system — the reference bot's status_interval_seconds is a
// timer owned by the notifier itself, not borrowed from the caller's
// loop. Call in its own goroutine; returns when stop is closed.
func (s *Sender) RunStatusReports(stop <-chan struct{}, interval time.Duration, snapshot func() StatusSnapshot) {
	if !s.cfg.Enabled || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.StatusReport(snapshot())
		}
	}
}

// StatusReport queues a periodic condensed report built from a
// caller-supplied snapshot.
func (s *Sender) StatusReport(snap StatusSnapshot) {
	state := "paused"
	if snap.Running {
		state = "running"
	}
	s.Queue(fmt.Sprintf(
		"<b>Status report</b>\nAccount: <code>%s</code>\nState: %s\n\nSignals: %d  Trades: %d  Errors: %d  Daily PnL: %s\nF: %s  L: %s  Net: %s\nThresholds: L=%s S=%s  Spreads: L=%s S=%s\nHealth: %d/100",
		s.cfg.AccountLabel, state, snap.SignalCount, snap.TradeCount, snap.ErrorCount, snap.DailyPnL.StringFixed(2),
		snap.FPosition.StringFixed(6), snap.LPosition.StringFixed(6), snap.NetPosition.StringFixed(6),
		snap.LongThreshold.StringFixed(2), snap.ShortThreshold.StringFixed(2),
		snap.CurrentLongSpread.StringFixed(2), snap.CurrentShortSpread.StringFixed(2),
		snap.HealthScore,
	))
}

// Stats returns the sender's lifetime counters.
type Stats struct {
	Enabled      bool
	MessagesSent int
	Errors       int
	QueueDepth   int
}

func (s *Sender) Stats() Stats {
	return Stats{
		Enabled:      s.cfg.Enabled,
		MessagesSent: s.messagesSent,
		Errors:       s.errors,
		QueueDepth:   len(s.queue),
	}
}
