package mm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/execution"
)

// Delay between cancelling a sell and resubmitting it. The exchange can still
// consider the inventory locked by the just-cancelled order for a moment.
const sellReplaceDelay = 100 * time.Millisecond

// lifecycleManager owns an agent's resting orders and the bookkeeping derived
// from their fills: inventory adjustments, weighted-average cost basis, and
// realized P&L. It is the only writer of that state.
type lifecycleManager struct {
	cfg  TraderConfig
	exec Execution
	rec  Recorder
	logf func(format string, args ...any)
	emit func(ev Event)

	buy  *RestingOrder
	sell *RestingOrder

	inventory   float64
	costBasis   *float64
	realizedPnL float64
	trades      int

	// Set when a sell was rejected for balance/allowance, meaning our
	// inventory view has drifted from the exchange.
	needPositionResync bool
}

func newLifecycleManager(cfg TraderConfig, exec Execution, rec Recorder, logf func(string, ...any), emit func(Event)) *lifecycleManager {
	if rec == nil {
		rec = nopRecorder{}
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &lifecycleManager{cfg: cfg, exec: exec, rec: rec, logf: logf, emit: emit}
}

func (lm *lifecycleManager) resting(side clob.Side) *RestingOrder {
	if side == clob.SideBuy {
		return lm.buy
	}
	return lm.sell
}

func (lm *lifecycleManager) register(side clob.Side, o *RestingOrder) {
	if side == clob.SideBuy {
		lm.buy = o
	} else {
		lm.sell = o
	}
}

// restingOrderIDs lists the ids of whatever is currently tracked as resting.
func (lm *lifecycleManager) restingOrderIDs() []string {
	var ids []string
	if lm.buy != nil {
		ids = append(ids, lm.buy.ID)
	}
	if lm.sell != nil {
		ids = append(ids, lm.sell.ID)
	}
	return ids
}

// reconcileFills polls the status of each tracked order and applies fills and
// cancellations. An order is dropped from tracking as soon as its terminal
// status is applied, so observing the same FILLED status again is a no-op.
func (lm *lifecycleManager) reconcileFills(ctx context.Context) {
	lm.reconcileOne(ctx, clob.SideBuy)
	lm.reconcileOne(ctx, clob.SideSell)
}

func (lm *lifecycleManager) reconcileOne(ctx context.Context, side clob.Side) {
	order := lm.resting(side)
	if order == nil {
		return
	}

	fields, err := lm.exec.GetOrderStatus(ctx, order.ID)
	if err != nil {
		lm.logf("[warn] %s: order status %s: %v", lm.cfg.displayName(), order.ID, err)
		return
	}

	status := orderStatusOf(fields)
	switch status {
	case "FILLED", "MATCHED":
		filled, how := extractFilledSize(fields, order.Size, status)
		if how != "" {
			lm.logf("[info] %s: filled size via %s for %s", lm.cfg.displayName(), how, order.ID)
		}
		if filled <= 0 {
			return
		}
		price := fillPriceOf(fields, order.Price)
		lm.applyFill(side, order, price, filled)
		lm.register(side, nil)
	case "CANCELED", "CANCELLED", "REJECTED", "EXPIRED":
		lm.logf("[info] %s: %s order %s %s", lm.cfg.displayName(), strings.ToLower(string(side)), order.ID, strings.ToLower(status))
		lm.register(side, nil)
	}
}

// applyFill folds one fill into inventory, cost basis and realized P&L, and
// emits the fill to the event log and the store.
func (lm *lifecycleManager) applyFill(side clob.Side, order *RestingOrder, price, filled float64) {
	var pnl *float64

	if side == clob.SideBuy {
		oldInv := lm.inventory
		if oldInv < 0 {
			oldInv = 0
		}
		newInv := oldInv + filled
		if lm.costBasis == nil {
			lm.costBasis = &price
		} else {
			basis := (*lm.costBasis*oldInv + price*filled) / newInv
			lm.costBasis = &basis
		}
		lm.inventory += filled
	} else {
		if lm.costBasis != nil {
			realized := (price - *lm.costBasis) * filled
			lm.realizedPnL += realized
			pnl = &realized
		}
		lm.inventory -= filled
		if lm.inventory <= 0 {
			lm.costBasis = nil
		}
	}
	lm.trades++
	fillsTotal.WithLabelValues(lm.cfg.MarketSlug, strings.ToLower(string(side))).Inc()

	lm.logf("[info] %s: %s fill %.2f @ %.4f (inventory=%.2f pnl=%.2f)",
		lm.cfg.displayName(), strings.ToLower(string(side)), filled, price, lm.inventory, lm.realizedPnL)
	lm.emit(Event{
		TsMs:        time.Now().UnixMilli(),
		Event:       "fill",
		Trader:      lm.cfg.displayName(),
		MarketSlug:  lm.cfg.MarketSlug,
		TokenID:     lm.cfg.TokenID,
		Side:        string(side),
		Price:       price,
		FilledSize:  filled,
		OrderID:     order.ID,
		CostBasis:   lm.costBasis,
		RealizedPnL: lm.realizedPnL,
		Inventory:   lm.inventory,
		Trades:      lm.trades,
	})
	lm.rec.RecordFill(lm.cfg.ID, lm.cfg.MarketSlug, string(side), price, filled, order.ID, pnl)
}

// apply carries out one side's decision against the exchange.
func (lm *lifecycleManager) apply(ctx context.Context, side clob.Side, dec Decision) {
	order := lm.resting(side)

	switch dec.Action {
	case ActionNone, ActionKeep:
		return

	case ActionCancel:
		if order == nil {
			return
		}
		if err := lm.exec.Cancel(ctx, order.ID); err != nil {
			lm.logf("[warn] %s: cancel %s: %v", lm.cfg.displayName(), order.ID, err)
			return
		}
		lm.logf("[info] %s: cancelled %s %s (%s)", lm.cfg.displayName(), strings.ToLower(string(side)), order.ID, dec.Reason)
		lm.emitOrderEvent("cancel", side, order.Price, order.Size, order.ID, dec.Reason)
		lm.register(side, nil)

	case ActionPlace:
		lm.place(ctx, side, dec)

	case ActionReplace:
		if order != nil {
			if err := lm.exec.Cancel(ctx, order.ID); err != nil {
				lm.logf("[warn] %s: replace cancel %s: %v", lm.cfg.displayName(), order.ID, err)
				return
			}
			lm.register(side, nil)
			if side == clob.SideSell {
				select {
				case <-ctx.Done():
					return
				case <-time.After(sellReplaceDelay):
				}
			}
		}
		lm.place(ctx, side, dec)
	}
}

func (lm *lifecycleManager) place(ctx context.Context, side clob.Side, dec Decision) {
	orderID, err := lm.exec.SubmitLimit(ctx, lm.cfg.TokenID, side, dec.Price, dec.Size)
	if err != nil {
		var msg string
		if side == clob.SideSell && execution.IsBalanceOrAllowance(err) {
			// Our inventory view has drifted; force a resync before the next
			// sell attempt instead of hammering the exchange.
			lm.needPositionResync = true
			msg = fmt.Sprintf("sell rejected for balance/allowance (inventory=%.2f size=%.2f); forcing position resync",
				lm.inventory, dec.Size)
		} else {
			msg = fmt.Sprintf("submit %s %.2f @ %.4f: %v",
				strings.ToLower(string(side)), dec.Size, dec.Price, err)
		}
		lm.logf("[warn] %s: %s", lm.cfg.displayName(), msg)
		lm.rec.RecordLog(lm.cfg.ID, "warn", msg)
		lm.emitOrderEvent("submit_failed", side, dec.Price, dec.Size, "", err.Error())
		return
	}

	lm.register(side, &RestingOrder{ID: orderID, Price: dec.Price, Size: dec.Size})
	lm.logf("[info] %s: placed %s %.2f @ %.4f (%s) id=%s",
		lm.cfg.displayName(), strings.ToLower(string(side)), dec.Size, dec.Price, dec.Reason, orderID)
	lm.emitOrderEvent("place", side, dec.Price, dec.Size, orderID, dec.Reason)
}

// cancelAll cancels whatever is still resting, logging but not failing on
// individual errors. Used during shutdown.
func (lm *lifecycleManager) cancelAll(ctx context.Context) {
	for _, side := range []clob.Side{clob.SideBuy, clob.SideSell} {
		order := lm.resting(side)
		if order == nil {
			continue
		}
		if err := lm.exec.Cancel(ctx, order.ID); err != nil {
			lm.logf("[warn] %s: shutdown cancel %s: %v", lm.cfg.displayName(), order.ID, err)
			continue
		}
		lm.register(side, nil)
	}
}

func (lm *lifecycleManager) emitOrderEvent(event string, side clob.Side, price, size float64, orderID, reason string) {
	lm.emit(Event{
		TsMs:       time.Now().UnixMilli(),
		Event:      event,
		Trader:     lm.cfg.displayName(),
		MarketSlug: lm.cfg.MarketSlug,
		TokenID:    lm.cfg.TokenID,
		Side:       string(side),
		Price:      price,
		Size:       size,
		OrderID:    orderID,
		Reason:     reason,
	})
}

func orderStatusOf(fields map[string]any) string {
	if fields == nil {
		return ""
	}
	if s, ok := fields["status"].(string); ok {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	return ""
}

// extractFilledSize pulls the filled share count out of an order status
// payload, tolerating the API's several field-naming conventions. Fallbacks:
// original minus remaining, then "assume full fill" for a FILLED order with
// no usable numeric fields. Returns the fallback used, if any, for logging.
func extractFilledSize(fields map[string]any, originalSize float64, status string) (float64, string) {
	for _, key := range []string{"size_matched", "filled_size", "filledSize", "filled", "filledAmount", "filled_amount"} {
		if v, ok := numericField(fields, key); ok && v > 0 {
			return v, ""
		}
	}
	for _, key := range []string{"remaining_size", "remainingSize", "remaining", "remainingAmount", "remaining_amount"} {
		if v, ok := numericField(fields, key); ok {
			filled := originalSize - v
			if filled > 0 {
				return filled, "original minus " + key
			}
		}
	}
	if status == "FILLED" || status == "MATCHED" {
		return originalSize, "assumed full fill"
	}
	return 0, ""
}

func fillPriceOf(fields map[string]any, fallback float64) float64 {
	for _, key := range []string{"price", "avg_price", "avgPrice"} {
		if v, ok := numericField(fields, key); ok && v > 0 {
			return v
		}
	}
	return fallback
}

func numericField(fields map[string]any, key string) (float64, bool) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case int:
		return float64(v), true
	}
	return 0, false
}
