package mm

import (
	"log"

	"poly-mmbot/internal/jsonl"
)

// Event is one JSONL record in the fleet's trade log.
type Event struct {
	TsMs  int64  `json:"ts_ms"`
	Event string `json:"event"`

	Trader     string `json:"trader,omitempty"`
	MarketSlug string `json:"market_slug,omitempty"`
	TokenID    string `json:"token_id,omitempty"`

	Side    string  `json:"side,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Size    float64 `json:"size,omitempty"`
	OrderID string  `json:"order_id,omitempty"`
	Reason  string  `json:"reason,omitempty"`

	// Fill accounting.
	FilledSize  float64  `json:"filled_size,omitempty"`
	CostBasis   *float64 `json:"cost_basis,omitempty"`
	RealizedPnL float64  `json:"realized_pnl,omitempty"`
	Inventory   float64  `json:"inventory,omitempty"`
	Trades      int      `json:"trades,omitempty"`

	// Fleet-level records.
	TraderCount int     `json:"trader_count,omitempty"`
	Exposure    float64 `json:"exposure,omitempty"`
	TotalPnL    float64 `json:"total_pnl,omitempty"`
	UptimeMs    int64   `json:"uptime_ms,omitempty"`

	Err string `json:"err,omitempty"`
}

// LogFleetEvent appends one event to the JSONL trade log. A nil writer (no
// log configured) is a no-op; write failures are logged and swallowed so the
// trading loop never stalls on the log file.
func LogFleetEvent(w *jsonl.Writer, ev Event) {
	if w == nil {
		return
	}
	if err := w.Write(ev); err != nil {
		log.Printf("[warn] trade log write failed: %v", err)
	}
}
