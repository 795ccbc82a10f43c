package mm

import (
	"context"
	"testing"

	"poly-mmbot/internal/clob"
	"poly-mmbot/internal/execution"
)

func newTestTrader(t *testing.T, exec Execution) *Trader {
	t.Helper()
	cfg := testConfig()
	cfg.ConditionID = "0xcond"
	tr, err := NewTrader(cfg, exec, &fakeRecorder{}, nil, nil)
	if err != nil {
		t.Fatalf("NewTrader: %v", err)
	}
	return tr
}

func TestStepPlacesBuyWhenFlat(t *testing.T) {
	exec := &fakeExec{
		book:     testBook(),
		statuses: map[string]map[string]any{},
	}
	tr := newTestTrader(t, exec)

	tr.Step(context.Background())

	if len(exec.submits) != 1 {
		t.Fatalf("submits = %+v, want one buy", exec.submits)
	}
	s := exec.submits[0]
	if s.side != clob.SideBuy || s.price != 0.51 {
		t.Fatalf("submit = %+v, want BUY at 0.51", s)
	}
	// Flat book position: no sell side.
	if tr.lm.sell != nil {
		t.Fatal("no sell should rest without inventory")
	}
}

func TestStepSyncsPositionFromExchange(t *testing.T) {
	exec := &fakeExec{
		book:     testBook(),
		statuses: map[string]map[string]any{},
		position: 42,
	}
	tr := newTestTrader(t, exec)

	tr.Step(context.Background())

	if tr.lm.inventory != 42 {
		t.Fatalf("inventory = %v, want 42 from exchange", tr.lm.inventory)
	}
	// With 42 shares held a sell should now rest too.
	var sells int
	for _, s := range exec.submits {
		if s.side == clob.SideSell {
			sells++
		}
	}
	if sells != 1 {
		t.Fatalf("submits = %+v, want one sell", exec.submits)
	}
}

func TestStepSkipsWhenPausedOrStopped(t *testing.T) {
	exec := &fakeExec{book: testBook(), statuses: map[string]map[string]any{}}
	tr := newTestTrader(t, exec)

	tr.Pause()
	tr.Step(context.Background())
	if len(exec.submits) != 0 {
		t.Fatal("paused trader must not trade")
	}

	tr.Resume()
	tr.Stop()
	tr.Step(context.Background())
	if len(exec.submits) != 0 {
		t.Fatal("stopped trader must not trade")
	}
}

func TestStepSurvivesBookFailure(t *testing.T) {
	exec := &fakeExec{
		bookErr:  context.DeadlineExceeded,
		statuses: map[string]map[string]any{},
	}
	tr := newTestTrader(t, exec)

	tr.Step(context.Background())
	if len(exec.submits) != 0 {
		t.Fatal("no orders can be placed without a book")
	}
	if !tr.IsActive() {
		t.Fatal("a failed step must not deactivate the trader")
	}
}

func TestStepAdoptsRestingOrdersAfterRestart(t *testing.T) {
	exec := &fakeExec{
		book:     testBook(),
		statuses: map[string]map[string]any{},
		open: []execution.OpenOrder{
			{ID: "survivor", Side: "BUY", Price: 0.51, OriginalSize: 190, MatchedSize: 0},
		},
	}
	tr := newTestTrader(t, exec)

	tr.Step(context.Background())

	// statuses map has no entry for "survivor", so reconciliation left it
	// alone; the open-orders sync must have adopted it.
	if tr.lm.buy == nil || tr.lm.buy.ID != "survivor" {
		t.Fatalf("adopted buy = %+v, want survivor", tr.lm.buy)
	}
}

func TestOverlayRoundTrip(t *testing.T) {
	exec := &fakeExec{statuses: map[string]map[string]any{}}
	tr := newTestTrader(t, exec)

	basis := 0.42
	tr.RestoreOverlay(&basis, 12.5, 7)

	gotBasis, pnl, trades := tr.OverlaySnapshot()
	if gotBasis == nil || *gotBasis != 0.42 || pnl != 12.5 || trades != 7 {
		t.Fatalf("overlay = %v/%v/%v", gotBasis, pnl, trades)
	}

	// The snapshot must be a copy, not an alias of internal state.
	*gotBasis = 0.99
	if *tr.lm.costBasis != 0.42 {
		t.Fatal("overlay snapshot aliases internal cost basis")
	}
}
