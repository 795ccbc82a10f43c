package mm

import (
	"context"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/execution"
)

// Execution is the exchange surface an agent trades through. It is satisfied
// by *execution.Adapter; tests substitute fakes.
type Execution interface {
	GetOrderBook(ctx context.Context, tokenID string) (*clob.OrderBookSummary, error)
	SubmitLimit(ctx context.Context, tokenID string, side clob.Side, price, size float64) (string, error)
	Cancel(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (map[string]any, error)
	GetMarketPosition(ctx context.Context, conditionID, tokenID string) (float64, error)
	GetMyOpenOrders(ctx context.Context, conditionID, tokenID string) ([]execution.OpenOrder, error)
}

// Roster exposes the trader roster held in the configuration store. All calls
// are best-effort; an unavailable store degrades to "no roster changes".
type Roster interface {
	LoadAllTraders(ctx context.Context, includePaused bool) ([]RosterEntry, error)
	GetTraderStatus(ctx context.Context, marketSlug string) (string, error)
}

// RosterEntry is one stored trader row, before slug resolution.
type RosterEntry struct {
	ID               string
	MarketSlug       string
	Budget           float64
	MinGap           float64
	PriceImprovement float64
	MaxInventory     float64
	Status           string
}

// Resolver turns a market slug into the identifiers trading needs.
type Resolver interface {
	ResolveSlug(ctx context.Context, slug string) (conditionID, tokenID string, minOrderSize float64, err error)
}

// Recorder receives fire-and-forget persistence writes from the trading path.
// Implementations must never block the caller.
type Recorder interface {
	RecordFill(traderID, marketSlug, side string, price, size float64, orderID string, pnl *float64)
	RecordLog(traderID, level, message string)
}

// nopRecorder is used when persistence is not configured.
type nopRecorder struct{}

func (nopRecorder) RecordFill(string, string, string, float64, float64, string, *float64) {}
func (nopRecorder) RecordLog(string, string, string)                                      {}
