package mm

import (
	"context"
	"fmt"
	"time"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/execution"
)

const (
	positionSyncEverySteps = 5
	positionSyncInterval   = 30 * time.Second
)

// Trader is one market-making agent: it owns a single market's quote state
// and runs one fetch/decide/reconcile step per supervisor tick. A trader is
// only ever driven from the supervisor goroutine, so it carries no locks.
type Trader struct {
	cfg  TraderConfig
	exec Execution
	lm   *lifecycleManager

	logf   func(format string, args ...any)
	emit   func(ev Event)
	status statusTracker

	active bool
	paused bool

	stepCount        int
	lastPositionSync time.Time

	// Last observed book, for the status report.
	lastBestBid *float64
	lastBestAsk *float64
}

func NewTrader(cfg TraderConfig, exec Execution, rec Recorder, logf func(string, ...any), emit func(Event)) (*Trader, error) {
	if cfg.TokenID == "" {
		return nil, fmt.Errorf("trader %s: token id required", cfg.displayName())
	}
	if exec == nil {
		return nil, fmt.Errorf("trader %s: execution required", cfg.displayName())
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if emit == nil {
		emit = func(Event) {}
	}

	t := &Trader{
		cfg:    cfg,
		exec:   exec,
		logf:   logf,
		emit:   emit,
		status: newStatusTracker("["+cfg.displayName()+"]", 30*time.Second, logf),
		active: true,
	}
	t.lm = newLifecycleManager(cfg, exec, rec, logf, emit)
	return t, nil
}

func (t *Trader) Config() TraderConfig { return t.cfg }
func (t *Trader) IsActive() bool       { return t.active }
func (t *Trader) IsPaused() bool       { return t.paused }

func (t *Trader) Pause()  { t.paused = true }
func (t *Trader) Resume() { t.paused = false }
func (t *Trader) Stop()   { t.active = false }

// RestingOrderIDs lists currently tracked resting order ids, for shutdown.
func (t *Trader) RestingOrderIDs() []string { return t.lm.restingOrderIDs() }

// OverlaySnapshot returns the locally tracked bookkeeping that cannot be
// recovered from the exchange: cost basis, realized P&L, trade count.
func (t *Trader) OverlaySnapshot() (costBasis *float64, realizedPnL float64, trades int) {
	if t.lm.costBasis != nil {
		v := *t.lm.costBasis
		costBasis = &v
	}
	return costBasis, t.lm.realizedPnL, t.lm.trades
}

// RestoreOverlay seeds the bookkeeping overlay, typically from a checkpoint
// written by a previous run.
func (t *Trader) RestoreOverlay(costBasis *float64, realizedPnL float64, trades int) {
	if costBasis != nil {
		v := *costBasis
		t.lm.costBasis = &v
	}
	t.lm.realizedPnL = realizedPnL
	t.lm.trades = trades
}

// Step runs one quote-maintenance cycle: reconcile fills, fetch market data,
// sync inventory from the exchange, decide both sides, and apply the
// decisions. Every failure is contained to this step; the next tick retries
// from scratch.
func (t *Trader) Step(ctx context.Context) {
	if !t.active || t.paused {
		return
	}
	t.stepCount++
	stepsTotal.WithLabelValues(t.cfg.MarketSlug).Inc()

	t.lm.reconcileFills(ctx)

	book, err := t.exec.GetOrderBook(ctx, t.cfg.TokenID)
	if err != nil {
		t.logf("[warn] %s: order book: %v", t.cfg.displayName(), err)
		stepErrorsTotal.WithLabelValues(t.cfg.MarketSlug, "order_book").Inc()
		return
	}

	t.syncOpenOrders(ctx)
	t.syncPosition(ctx)

	snap, err := buildSnapshot(book, t.cfg, t.lm.inventory, t.lm.buy, t.lm.sell)
	if err != nil {
		t.status.Set("book", err.Error())
		return
	}
	t.lastBestBid = snap.BestBid
	t.lastBestAsk = snap.BestAsk

	buyDec := decideBuy(snap, t.cfg)
	sellDec := decideSell(snap, t.cfg)

	t.lm.apply(ctx, clob.SideBuy, buyDec)
	t.lm.apply(ctx, clob.SideSell, sellDec)

	t.status.Set("buy", fmt.Sprintf("%s (%s)", buyDec.Action, buyDec.Reason))
	t.status.Set("sell", fmt.Sprintf("%s (%s)", sellDec.Action, sellDec.Reason))
}

// syncOpenOrders adopts resting orders the exchange knows about but we do not
// track, which happens after a restart. Tracked orders missing from the open
// list are left alone; the next fill reconciliation resolves them by status.
func (t *Trader) syncOpenOrders(ctx context.Context) {
	open, err := t.exec.GetMyOpenOrders(ctx, t.cfg.ConditionID, t.cfg.TokenID)
	if err != nil {
		t.logf("[warn] %s: open orders: %v", t.cfg.displayName(), err)
		return
	}
	for i := range open {
		o := &open[i]
		resting := &RestingOrder{ID: o.ID, Price: o.Price, Size: o.Remaining()}
		switch o.Side {
		case string(clob.SideBuy):
			if t.lm.buy == nil {
				t.logf("[info] %s: adopting resting buy %s %.2f @ %.4f", t.cfg.displayName(), o.ID, resting.Size, o.Price)
				t.lm.buy = resting
			}
		case string(clob.SideSell):
			if t.lm.sell == nil {
				t.logf("[info] %s: adopting resting sell %s %.2f @ %.4f", t.cfg.displayName(), o.ID, resting.Size, o.Price)
				t.lm.sell = resting
			}
		}
	}
}

// syncPosition refreshes inventory from the exchange on the first step, every
// few steps, on a wall-clock interval, and immediately after a balance
// rejection. A failed sync keeps the locally tracked value for this step.
func (t *Trader) syncPosition(ctx context.Context) {
	due := t.stepCount == 1 ||
		t.stepCount%positionSyncEverySteps == 0 ||
		time.Since(t.lastPositionSync) >= positionSyncInterval ||
		t.lm.needPositionResync

	if !due {
		return
	}

	pos, err := t.exec.GetMarketPosition(ctx, t.cfg.ConditionID, t.cfg.TokenID)
	if err != nil {
		t.logf("[warn] %s: position sync: %v (using tracked %.2f)", t.cfg.displayName(), err, t.lm.inventory)
		stepErrorsTotal.WithLabelValues(t.cfg.MarketSlug, "position_sync").Inc()
		return
	}
	if t.lm.needPositionResync || pos != t.lm.inventory {
		t.logf("[info] %s: position synced %.2f -> %.2f", t.cfg.displayName(), t.lm.inventory, pos)
	}
	t.lm.inventory = pos
	t.lm.needPositionResync = false
	t.lastPositionSync = time.Now()
}

// CancelAllOrders cancels everything still resting, for shutdown or removal.
func (t *Trader) CancelAllOrders(ctx context.Context) {
	t.lm.cancelAll(ctx)
}

// TraderStatus is a point-in-time summary the supervisor aggregates for risk
// checks and the status report.
type TraderStatus struct {
	Name       string
	MarketSlug string
	Active     bool
	Paused     bool

	Inventory     float64
	PositionValue float64
	RealizedPnL   float64
	Trades        int

	Budget          float64
	CapitalUsed     float64
	AvailableBudget float64

	BestBid *float64
	BestAsk *float64

	Buy  *RestingOrder
	Sell *RestingOrder
}

func (t *Trader) Status() TraderStatus {
	st := TraderStatus{
		Name:        t.cfg.displayName(),
		MarketSlug:  t.cfg.MarketSlug,
		Active:      t.active,
		Paused:      t.paused,
		Inventory:   t.lm.inventory,
		RealizedPnL: t.lm.realizedPnL,
		Trades:      t.lm.trades,
		Budget:      t.cfg.Budget,
		BestBid:     t.lastBestBid,
		BestAsk:     t.lastBestAsk,
		Buy:         t.lm.buy,
		Sell:        t.lm.sell,
	}
	if t.lastBestBid != nil {
		st.PositionValue = t.lm.inventory * *t.lastBestBid
		st.CapitalUsed = abs(st.PositionValue)
		st.AvailableBudget = t.cfg.Budget - st.CapitalUsed
	}
	return st
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ Execution = (*execution.Adapter)(nil)
