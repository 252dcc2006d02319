// client.go implements the REST surface of the Venue-L Client: account
// queries (position, balance) and order placement, used directly when
// no trading SDK is configured — which is always true here, matching
// the reference implementation's REST fallback path.
package venuel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"lighter-arb/internal/config"
	"lighter-arb/pkg/types"
)

// slippageGuard is the fraction applied to the opposing top-of-book
// price when no explicit price is given to PlaceAggressive: ask*1.005
// for a buy, bid*0.995 for a sell.
var (
	buySlippage  = decimal.RequireFromString("1.005")
	sellSlippage = decimal.RequireFromString("0.995")
)

// dustPosition is the magnitude below which Flatten treats a position
// as already flat.
var dustPosition = decimal.RequireFromString("0.0001")

// Client is the Venue-L Client: REST order placement and account
// queries plus (via its embedded Stream) the order-book subscription.
// Exported methods are safe to call from the coordinator goroutine only
// — there is no internal locking beyond what resty/the HTTP transport
// already provide.
type Client struct {
	http   *resty.Client
	auth   *Auth
	cfg    config.VenueLConfig
	dryRun bool
	logger *slog.Logger
	rl     *RateLimiter

	*Stream
}

// NewClient creates a Venue-L Client bound to cfg, with its stream
// subscription not yet started — call Run to begin it.
func NewClient(cfg config.VenueLConfig, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	c := &Client{
		http:   httpClient,
		auth:   auth,
		cfg:    cfg,
		dryRun: dryRun,
		logger: logger.With("component", "venuel"),
		rl:     NewRateLimiter(cfg),
	}
	c.Stream = newStream(cfg, logger)
	return c
}

// account fetches the configured account's positions and balance.
func (c *Client) account(ctx context.Context) (*types.VenueLAccount, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.VenueLAccount
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"by":    "index",
			"value": fmt.Sprintf("%d", c.cfg.AccountIndex),
		}).
		SetResult(&result).
		Get("/api/v1/account")
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetPosition returns the signed position for the configured market
// index. It satisfies internal/ledger.PositionFetcher. A transport
// failure is wrapped and returned; callers retain the last cached value
// rather than treating a zero result as authoritative.
func (c *Client) GetPosition(ctx context.Context) (decimal.Decimal, error) {
	acct, err := c.account(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue-l position: %w", err)
	}
	if len(acct.Accounts) == 0 {
		return decimal.Zero, nil
	}
	for _, pos := range acct.Accounts[0].Positions {
		if pos.MarketIndex != c.cfg.MarketIndex {
			continue
		}
		size, err := decimal.NewFromString(pos.Size)
		if err != nil {
			return decimal.Zero, fmt.Errorf("venue-l position: parse size: %w", err)
		}
		if !pos.IsLong {
			size = size.Neg()
		}
		return size, nil
	}
	return decimal.Zero, nil
}

// GetBalance returns the account's available balance. Failure logs and
// returns zero — callers treat zero as stale, matching the reference
// implementation's get_balance.
func (c *Client) GetBalance(ctx context.Context) decimal.Decimal {
	acct, err := c.account(ctx)
	if err != nil {
		c.logger.Error("get balance failed", "error", err)
		return decimal.Zero
	}
	if len(acct.Accounts) == 0 {
		return decimal.Zero
	}
	bal, err := decimal.NewFromString(acct.Accounts[0].AvailableBalance)
	if err != nil {
		c.logger.Error("parse balance failed", "error", err)
		return decimal.Zero
	}
	return bal
}

// PlaceResult is the outcome of an order-placement attempt. Err is set
// on failure; a failure never panics or propagates as a Go error past
// this boundary, matching the reference implementation's {ok, error}
// return shape.
type PlaceResult struct {
	OK      bool
	OrderID string
	Err     string
}

// PlaceAggressive places a limit order priced to cross the book
// immediately. If price is the zero value, it is derived from the
// current venue-L top-of-book with the configured slippage guard:
// ask*1.005 for a buy, bid*0.995 for a sell.
func (c *Client) PlaceAggressive(ctx context.Context, side types.Side, qty, price decimal.Decimal) PlaceResult {
	if price.IsZero() {
		top, ok := c.Stream.Top()
		if !ok {
			return PlaceResult{Err: "No bid/ask price"}
		}
		if side == types.Buy {
			if top.Ask.IsZero() {
				return PlaceResult{Err: "No bid/ask price"}
			}
			price = top.Ask.Mul(buySlippage)
		} else {
			if top.Bid.IsZero() {
				return PlaceResult{Err: "No bid/ask price"}
			}
			price = top.Bid.Mul(sellSlippage)
		}
	}

	if c.dryRun {
		c.logger.Info("DRY-RUN: would place venue-l order", "side", side, "qty", qty, "price", price)
		return PlaceResult{OK: true, OrderID: "dry-run"}
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return PlaceResult{Err: err.Error()}
	}

	req := types.VenueLOrderRequest{
		MarketIndex: c.cfg.MarketIndex,
		Side:        string(side),
		Size:        qty.String(),
		Price:       price.String(),
		Type:        "limit",
	}

	var result types.VenueLOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/api/v1/order")
	if err != nil {
		return PlaceResult{Err: err.Error()}
	}
	if resp.StatusCode() != http.StatusOK {
		return PlaceResult{Err: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String())}
	}
	if result.Error != "" {
		return PlaceResult{Err: result.Error}
	}
	return PlaceResult{OK: true, OrderID: result.OrderIndex}
}

// Flatten reads the current position and, if it exceeds the dust
// threshold, places an aggressive order in the opposite direction for
// its full magnitude.
func (c *Client) Flatten(ctx context.Context) PlaceResult {
	pos, err := c.GetPosition(ctx)
	if err != nil {
		return PlaceResult{Err: err.Error()}
	}
	if pos.Abs().LessThan(dustPosition) {
		return PlaceResult{OK: true}
	}
	side := types.Sell
	if pos.IsNegative() {
		side = types.Buy
	}
	return c.PlaceAggressive(ctx, side, pos.Abs(), decimal.Zero)
}
