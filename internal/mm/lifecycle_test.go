package mm

import (
	"context"
	"fmt"
	"math"
	"testing"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/execution"
)

type submitCall struct {
	tokenID string
	side    clob.Side
	price   float64
	size    float64
}

type fakeExec struct {
	book        *clob.OrderBookSummary
	bookErr     error
	statuses    map[string]map[string]any
	position    float64
	positionErr error
	open        []execution.OpenOrder

	submits   []submitCall
	submitErr error
	nextID    int
	cancels   []string
	cancelErr error
}

func (f *fakeExec) GetOrderBook(ctx context.Context, tokenID string) (*clob.OrderBookSummary, error) {
	return f.book, f.bookErr
}

func (f *fakeExec) SubmitLimit(ctx context.Context, tokenID string, side clob.Side, price, size float64) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	id := fmt.Sprintf("order-%d", f.nextID)
	f.submits = append(f.submits, submitCall{tokenID: tokenID, side: side, price: price, size: size})
	return id, nil
}

func (f *fakeExec) Cancel(ctx context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeExec) GetOrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	st, ok := f.statuses[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	return st, nil
}

func (f *fakeExec) GetMarketPosition(ctx context.Context, conditionID, tokenID string) (float64, error) {
	return f.position, f.positionErr
}

func (f *fakeExec) GetMyOpenOrders(ctx context.Context, conditionID, tokenID string) ([]execution.OpenOrder, error) {
	return f.open, nil
}

type recordedFill struct {
	slug    string
	side    string
	price   float64
	size    float64
	orderID string
	pnl     *float64
}

type fakeRecorder struct {
	fills []recordedFill
	logs  []string
}

func (r *fakeRecorder) RecordFill(traderID, slug, side string, price, size float64, orderID string, pnl *float64) {
	r.fills = append(r.fills, recordedFill{slug: slug, side: side, price: price, size: size, orderID: orderID, pnl: pnl})
}

func (r *fakeRecorder) RecordLog(traderID, level, message string) {
	r.logs = append(r.logs, level+": "+message)
}

func newTestLifecycle(exec Execution, rec Recorder) *lifecycleManager {
	return newLifecycleManager(testConfig(), exec, rec, nil, nil)
}

func TestReconcileBuyFillUpdatesBasisAndInventory(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{
		"b1": {"status": "FILLED", "size_matched": "10", "price": "0.40"},
	}}
	rec := &fakeRecorder{}
	lm := newTestLifecycle(exec, rec)
	lm.buy = &RestingOrder{ID: "b1", Price: 0.40, Size: 10}

	lm.reconcileFills(context.Background())

	if lm.buy != nil {
		t.Fatal("filled buy should be cleared from tracking")
	}
	if lm.inventory != 10 {
		t.Fatalf("inventory = %v, want 10", lm.inventory)
	}
	if lm.costBasis == nil || math.Abs(*lm.costBasis-0.40) > 1e-9 {
		t.Fatalf("cost basis = %v, want 0.40", lm.costBasis)
	}
	if lm.trades != 1 {
		t.Fatalf("trades = %d, want 1", lm.trades)
	}
	if len(rec.fills) != 1 || rec.fills[0].side != "BUY" || rec.fills[0].pnl != nil {
		t.Fatalf("recorded fills = %+v", rec.fills)
	}
}

func TestBuyFillWeightedAverageBasis(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{}}
	lm := newTestLifecycle(exec, &fakeRecorder{})

	// 10 @ 0.40, then 10 @ 0.60: basis should land at 0.50.
	lm.applyFill(clob.SideBuy, &RestingOrder{ID: "b1"}, 0.40, 10)
	lm.applyFill(clob.SideBuy, &RestingOrder{ID: "b2"}, 0.60, 10)

	if lm.inventory != 20 {
		t.Fatalf("inventory = %v, want 20", lm.inventory)
	}
	if lm.costBasis == nil || math.Abs(*lm.costBasis-0.50) > 1e-9 {
		t.Fatalf("cost basis = %v, want 0.50", lm.costBasis)
	}
}

func TestSellFillRealizesPnLAndResetsBasis(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{}}
	rec := &fakeRecorder{}
	lm := newTestLifecycle(exec, rec)

	// Buy 10 @ 0.40, sell 10 @ 0.45: realized P&L 0.50 and basis cleared.
	lm.applyFill(clob.SideBuy, &RestingOrder{ID: "b1"}, 0.40, 10)
	lm.applyFill(clob.SideSell, &RestingOrder{ID: "s1"}, 0.45, 10)

	if math.Abs(lm.realizedPnL-0.50) > 1e-9 {
		t.Fatalf("realized pnl = %v, want 0.50", lm.realizedPnL)
	}
	if lm.inventory != 0 {
		t.Fatalf("inventory = %v, want 0", lm.inventory)
	}
	if lm.costBasis != nil {
		t.Fatalf("cost basis = %v, want cleared", *lm.costBasis)
	}
	if lm.trades != 2 {
		t.Fatalf("trades = %d, want 2", lm.trades)
	}

	last := rec.fills[len(rec.fills)-1]
	if last.pnl == nil || math.Abs(*last.pnl-0.50) > 1e-9 {
		t.Fatalf("recorded sell pnl = %v, want 0.50", last.pnl)
	}
}

func TestReconcileFillIsIdempotent(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{
		"b1": {"status": "FILLED", "size_matched": "10", "price": "0.40"},
	}}
	lm := newTestLifecycle(exec, &fakeRecorder{})
	lm.buy = &RestingOrder{ID: "b1", Price: 0.40, Size: 10}

	lm.reconcileFills(context.Background())
	invAfter, pnlAfter, tradesAfter := lm.inventory, lm.realizedPnL, lm.trades

	// The order is no longer tracked; seeing the same FILLED status again
	// must not double-apply.
	lm.reconcileFills(context.Background())
	if lm.inventory != invAfter || lm.realizedPnL != pnlAfter || lm.trades != tradesAfter {
		t.Fatalf("second reconcile changed state: inv %v pnl %v trades %d",
			lm.inventory, lm.realizedPnL, lm.trades)
	}
}

func TestReconcileCancelledOrderJustUnregisters(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{
		"s1": {"status": "CANCELED"},
	}}
	lm := newTestLifecycle(exec, &fakeRecorder{})
	lm.inventory = 20
	lm.sell = &RestingOrder{ID: "s1", Price: 0.55, Size: 19.8}

	lm.reconcileFills(context.Background())

	if lm.sell != nil {
		t.Fatal("cancelled sell should be cleared")
	}
	if lm.inventory != 20 || lm.realizedPnL != 0 || lm.trades != 0 {
		t.Fatalf("cancellation must not touch accounting: inv %v pnl %v trades %d",
			lm.inventory, lm.realizedPnL, lm.trades)
	}
}

func TestExtractFilledSizeFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]any
		original float64
		status   string
		want     float64
		fallback bool
	}{
		{
			name:   "size_matched string",
			fields: map[string]any{"size_matched": "7.5"},
			want:   7.5,
		},
		{
			name:   "filledSize numeric",
			fields: map[string]any{"filledSize": 3.0},
			want:   3,
		},
		{
			name:     "original minus remaining",
			fields:   map[string]any{"remaining_size": "4"},
			original: 10,
			want:     6,
			fallback: true,
		},
		{
			name:     "assume full fill",
			fields:   map[string]any{},
			original: 10,
			status:   "FILLED",
			want:     10,
			fallback: true,
		},
		{
			name:     "no data and not filled",
			fields:   map[string]any{},
			original: 10,
			status:   "LIVE",
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, how := extractFilledSize(tt.fields, tt.original, tt.status)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("filled = %v, want %v", got, tt.want)
			}
			if (how != "") != tt.fallback {
				t.Fatalf("fallback = %q, want fallback used: %v", how, tt.fallback)
			}
		})
	}
}

func TestApplyPlaceAndCancel(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{}}
	lm := newTestLifecycle(exec, &fakeRecorder{})

	lm.apply(context.Background(), clob.SideBuy, Decision{Action: ActionPlace, Price: 0.51, Size: 100})
	if lm.buy == nil || lm.buy.ID != "order-1" {
		t.Fatalf("buy not registered: %+v", lm.buy)
	}
	if len(exec.submits) != 1 || exec.submits[0].side != clob.SideBuy {
		t.Fatalf("submits = %+v", exec.submits)
	}

	lm.apply(context.Background(), clob.SideBuy, Decision{Action: ActionCancel, Reason: "spread gone"})
	if lm.buy != nil {
		t.Fatal("cancelled buy still tracked")
	}
	if len(exec.cancels) != 1 || exec.cancels[0] != "order-1" {
		t.Fatalf("cancels = %v", exec.cancels)
	}
}

func TestApplyReplaceCancelsThenPlaces(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{}}
	lm := newTestLifecycle(exec, &fakeRecorder{})
	lm.sell = &RestingOrder{ID: "old", Price: 0.56, Size: 19.8}

	lm.apply(context.Background(), clob.SideSell, Decision{Action: ActionReplace, Price: 0.54, Size: 19.8})

	if len(exec.cancels) != 1 || exec.cancels[0] != "old" {
		t.Fatalf("cancels = %v", exec.cancels)
	}
	if lm.sell == nil || lm.sell.Price != 0.54 {
		t.Fatalf("sell after replace = %+v", lm.sell)
	}
}

func TestSellBalanceErrorForcesResync(t *testing.T) {
	exec := &fakeExec{
		statuses:  map[string]map[string]any{},
		submitErr: fmt.Errorf("not enough balance / allowance"),
	}
	lm := newTestLifecycle(exec, &fakeRecorder{})

	lm.apply(context.Background(), clob.SideSell, Decision{Action: ActionPlace, Price: 0.54, Size: 19.8})

	if !lm.needPositionResync {
		t.Fatal("balance rejection on a sell must force a position resync")
	}
	if lm.sell != nil {
		t.Fatal("failed sell must not be tracked")
	}

	// The same failure on a buy is not an inventory drift signal.
	lm.needPositionResync = false
	lm.apply(context.Background(), clob.SideBuy, Decision{Action: ActionPlace, Price: 0.51, Size: 100})
	if lm.needPositionResync {
		t.Fatal("buy failure must not force a position resync")
	}
}
