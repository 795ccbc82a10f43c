package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/dataapi"
	"poly-mmbot/internal/rtds"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// OpenOrder is a resting order as seen from the exchange, with decimal fields
// already parsed.
type OpenOrder struct {
	ID           string
	Side         string
	Price        float64
	OriginalSize float64
	MatchedSize  float64
}

// Remaining is the unfilled share count still resting on the book.
func (o OpenOrder) Remaining() float64 {
	r := o.OriginalSize - o.MatchedSize
	if r < 0 {
		return 0
	}
	return r
}

// Adapter is the exchange surface the trading agents run against. It wraps the
// CLOB REST client with bounded retries, serves order books from the RTDS
// cache when fresh, and reads ground-truth positions from the data API.
type Adapter struct {
	clobClient *clob.Client
	dataClient *dataapi.Client
	books      *rtds.BookCache
	bookMaxAge time.Duration

	funder        string
	saltGen       func() int64
	useServerTime bool

	maxAttempts int
	retryDelay  time.Duration
}

type Config struct {
	Books      *rtds.BookCache
	BookMaxAge time.Duration

	SaltGenerator func() int64
	UseServerTime bool

	MaxAttempts int
	RetryDelay  time.Duration
}

func NewAdapter(clobClient *clob.Client, dataClient *dataapi.Client, cfg Config) (*Adapter, error) {
	if clobClient == nil {
		return nil, fmt.Errorf("clob client required")
	}
	if cfg.SaltGenerator == nil {
		return nil, fmt.Errorf("salt generator required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.BookMaxAge <= 0 {
		cfg.BookMaxAge = 5 * time.Second
	}

	return &Adapter{
		clobClient:    clobClient,
		dataClient:    dataClient,
		books:         cfg.Books,
		bookMaxAge:    cfg.BookMaxAge,
		funder:        clobClient.FunderAddress().Hex(),
		saltGen:       cfg.SaltGenerator,
		useServerTime: cfg.UseServerTime,
		maxAttempts:   cfg.MaxAttempts,
		retryDelay:    cfg.RetryDelay,
	}, nil
}

func (a *Adapter) FunderAddress() string { return a.funder }

// GetOrderBook serves the RTDS-cached book when it is fresh, falling back to
// the REST endpoint.
func (a *Adapter) GetOrderBook(ctx context.Context, tokenID string) (*clob.OrderBookSummary, error) {
	if a.books != nil {
		if book, ok := a.books.Get(tokenID, a.bookMaxAge); ok {
			return book, nil
		}
	}

	var book *clob.OrderBookSummary
	err := a.withRetry(ctx, "get_order_book", func() error {
		var err error
		book, err = a.clobClient.GetOrderBook(ctx, tokenID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// SubmitLimit signs and posts a GTC limit order, returning the exchange order
// id. Price and size are quantized down to the precision the CLOB accepts.
func (a *Adapter) SubmitLimit(ctx context.Context, tokenID string, side clob.Side, price, size float64) (string, error) {
	priceStr := QuantizePrice(price)
	sizeStr := QuantizeSize(size)

	var orderID string
	err := a.withRetry(ctx, "submit_limit", func() error {
		result, err := a.clobClient.CreateSignedLimitOrder(ctx, tokenID, side, priceStr, sizeStr, a.saltGen)
		if err != nil {
			return err
		}
		resp, err := a.clobClient.PostSignedOrder(ctx, result.SignedOrder, clob.OrderTypeGTC, a.useServerTime)
		if err != nil {
			return err
		}
		id, err := orderIDFromResponse(resp)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		if IsBalanceOrAllowance(err) {
			a.refreshBalanceAllowance(ctx, tokenID, side)
		}
		return "", err
	}
	return orderID, nil
}

// refreshBalanceAllowance nudges the CLOB to re-read the wallet's on-chain
// balance and allowance after a rejection, so the next submit is not judged
// against a stale cached view. Best effort, errors only cost the nudge.
func (a *Adapter) refreshBalanceAllowance(ctx context.Context, tokenID string, side clob.Side) {
	params := &clob.BalanceAllowanceParams{AssetType: "COLLATERAL", SignatureType: -1}
	if side == clob.SideSell {
		params.AssetType = "CONDITIONAL"
		params.TokenID = tokenID
	}
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_ = a.clobClient.UpdateBalanceAllowance(refreshCtx, params, a.useServerTime)
}

func (a *Adapter) Cancel(ctx context.Context, orderID string) error {
	return a.withRetry(ctx, "cancel_order", func() error {
		_, err := a.clobClient.CancelOrder(ctx, orderID, a.useServerTime)
		return err
	})
}

// GetOrderStatus returns the raw order payload so callers can extract fill
// fields across the API's naming conventions.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	var fields map[string]any
	err := a.withRetry(ctx, "get_order_status", func() error {
		var err error
		fields, err = a.clobClient.GetOrderFields(ctx, orderID, a.useServerTime)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// GetMarketPosition reads the wallet's outcome-token holding from the data
// API. This is the ground truth for inventory.
func (a *Adapter) GetMarketPosition(ctx context.Context, conditionID, tokenID string) (float64, error) {
	if a.dataClient == nil {
		return 0, fmt.Errorf("data api client not configured")
	}

	var size float64
	err := a.withRetry(ctx, "get_position", func() error {
		var err error
		size, err = a.dataClient.TokenPositionSize(ctx, a.funder, conditionID, tokenID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// GetMyOpenOrders lists the wallet's resting orders on a token.
func (a *Adapter) GetMyOpenOrders(ctx context.Context, conditionID, tokenID string) ([]OpenOrder, error) {
	var raw []clob.OrderInfo
	err := a.withRetry(ctx, "get_open_orders", func() error {
		var err error
		raw, err = a.clobClient.GetOpenOrders(ctx, clob.OpenOrderParams{
			Market:  conditionID,
			AssetID: tokenID,
		}, a.useServerTime)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]OpenOrder, 0, len(raw))
	for _, info := range raw {
		out = append(out, OpenOrder{
			ID:           info.ID,
			Side:         strings.ToUpper(strings.TrimSpace(info.Side)),
			Price:        parseFloatOrZero(info.Price),
			OriginalSize: parseFloatOrZero(info.OriginalSize),
			MatchedSize:  parseFloatOrZero(info.SizeMatched),
		})
	}
	return out, nil
}

func (a *Adapter) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	delay := a.retryDelay

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Error{Op: op, Attempts: attempt - 1, Err: err}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		// Balance/allowance rejections are deterministic; retrying only delays
		// the resync the caller needs to do.
		if IsBalanceOrAllowance(lastErr) {
			return &Error{Op: op, Attempts: attempt, Err: lastErr}
		}
		if attempt == a.maxAttempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return &Error{Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-t.C:
		}
		delay *= 2
	}
	return &Error{Op: op, Attempts: a.maxAttempts, Err: lastErr}
}

func orderIDFromResponse(resp map[string]any) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("empty order response")
	}
	if msg, ok := resp["errorMsg"].(string); ok && strings.TrimSpace(msg) != "" {
		return "", fmt.Errorf("order rejected: %s", msg)
	}
	if success, ok := resp["success"].(bool); ok && !success {
		return "", fmt.Errorf("order rejected: %v", resp)
	}
	for _, key := range []string{"orderID", "orderId", "id"} {
		if v, ok := resp[key].(string); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("order id missing in response: %v", resp)
}

func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
