package mm

import (
	"math"
	"testing"
)

func fptr(v float64) *float64 { return &v }

func testConfig() TraderConfig {
	return TraderConfig{
		MarketSlug:            "test-market",
		TokenID:               "123",
		Budget:                100,
		MinGapCents:           2,
		PriceImprovementCents: 1,
	}
}

func testSnapshot(bid, ask float64) *Snapshot {
	return &Snapshot{
		BestBid:      fptr(bid),
		BestAsk:      fptr(ask),
		MinOrderSize: 5,
	}
}

func TestDecideBuyWantedWhenSpreadClears(t *testing.T) {
	// bid 0.50, ask 0.55, improvement 1c, min gap 2c:
	// effective spread 4c clears the gap, bid at 0.51.
	snap := testSnapshot(0.50, 0.55)
	dec := decideBuy(snap, testConfig())

	if dec.Action != ActionPlace {
		t.Fatalf("action = %v, want place (%s)", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Price-0.51) > 1e-9 {
		t.Fatalf("price = %v, want 0.51", dec.Price)
	}
	if dec.Size < 5 {
		t.Fatalf("size = %v, below min order", dec.Size)
	}
	if dec.Price*dec.Size > 100+1e-9 {
		t.Fatalf("notional %v exceeds budget", dec.Price*dec.Size)
	}
}

func TestDecideBuyRejectedWhenSpreadTooTight(t *testing.T) {
	// bid 0.50, ask 0.52: effective spread 1c < min gap 2c.
	snap := testSnapshot(0.50, 0.52)
	dec := decideBuy(snap, testConfig())
	if dec.Action != ActionNone {
		t.Fatalf("action = %v, want none (%s)", dec.Action, dec.Reason)
	}

	// With a resting bid the same snapshot demands a cancel.
	snap.Buy = &RestingOrder{ID: "b1", Price: 0.51, Size: 100}
	dec = decideBuy(snap, testConfig())
	if dec.Action != ActionCancel {
		t.Fatalf("action = %v, want cancel (%s)", dec.Action, dec.Reason)
	}
}

func TestDecideBuyNotionalNeverExceedsBudget(t *testing.T) {
	cfg := testConfig()
	for _, bid := range []float64{0.10, 0.33, 0.50, 0.77} {
		snap := testSnapshot(bid, bid+0.10)
		dec := decideBuy(snap, cfg)
		if dec.Action != ActionPlace {
			continue
		}
		if dec.Price*dec.Size > cfg.Budget+1e-9 {
			t.Fatalf("bid %v: notional %v exceeds budget %v", bid, dec.Price*dec.Size, cfg.Budget)
		}
	}
}

func TestDecideBuyBudgetReducedByInventory(t *testing.T) {
	cfg := testConfig()
	snap := testSnapshot(0.50, 0.55)
	snap.Inventory = 198 // $99 of the $100 budget tied up in inventory

	dec := decideBuy(snap, cfg)
	if dec.Action != ActionNone {
		// $1 left is below the min-order notional of 5 shares at the bid.
		t.Fatalf("action = %v, want none (%s)", dec.Action, dec.Reason)
	}
}

func TestDecideBuyInventoryCapVariant(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInventory = 50

	snap := testSnapshot(0.50, 0.55)
	snap.Inventory = 30
	dec := decideBuy(snap, cfg)
	if dec.Action != ActionPlace {
		t.Fatalf("action = %v, want place (%s)", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Size-20) > 1e-9 {
		t.Fatalf("size = %v, want headroom 20", dec.Size)
	}

	snap.Inventory = 48 // headroom 2 below the 5-share minimum
	dec = decideBuy(snap, cfg)
	if dec.Action != ActionNone {
		t.Fatalf("action = %v, want none (%s)", dec.Action, dec.Reason)
	}
}

func TestDecideBuyKeepsBestBid(t *testing.T) {
	snap := testSnapshot(0.51, 0.55)
	snap.Buy = &RestingOrder{ID: "b1", Price: 0.51, Size: 196}
	snap.BuyIsBest = true

	dec := decideBuy(snap, testConfig())
	if dec.Action != ActionKeep {
		t.Fatalf("action = %v, want keep (%s)", dec.Action, dec.Reason)
	}
}

func TestDecideBuyReplacesWhenOutbid(t *testing.T) {
	// A competitor moved the best bid above our resting order.
	snap := testSnapshot(0.52, 0.58)
	snap.Buy = &RestingOrder{ID: "b1", Price: 0.50, Size: 100}

	dec := decideBuy(snap, testConfig())
	if dec.Action != ActionReplace {
		t.Fatalf("action = %v, want replace (%s)", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Price-0.53) > 1e-9 {
		t.Fatalf("price = %v, want 0.53", dec.Price)
	}
}

func TestDecideBuySoleBestNarrowsTowardSecondBest(t *testing.T) {
	// We are alone at 0.50 and the next bid is 0.44: concede one improvement
	// step above the competitor instead of the whole gap.
	snap := testSnapshot(0.50, 0.60)
	snap.SecondBestBid = fptr(0.44)
	snap.BestBidSize = 100
	snap.Buy = &RestingOrder{ID: "b1", Price: 0.50, Size: 100}
	snap.BuyIsBest = true
	snap.BuySoleBest = true

	dec := decideBuy(snap, testConfig())
	if dec.Action != ActionReplace {
		t.Fatalf("action = %v, want replace (%s)", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Price-0.45) > 1e-9 {
		t.Fatalf("price = %v, want 0.45", dec.Price)
	}
}

func TestDecideSellNeverWithoutInventory(t *testing.T) {
	for _, inv := range []float64{0, -1, -0.0001} {
		snap := testSnapshot(0.50, 0.55)
		snap.Inventory = inv
		dec := decideSell(snap, testConfig())
		if dec.Action != ActionNone {
			t.Fatalf("inventory %v: action = %v, want none", inv, dec.Action)
		}

		snap.Sell = &RestingOrder{ID: "s1", Price: 0.54, Size: 10}
		dec = decideSell(snap, testConfig())
		if dec.Action != ActionCancel {
			t.Fatalf("inventory %v: action = %v, want cancel", inv, dec.Action)
		}
	}
}

func TestDecideSellSizeRespectsSafetyBuffer(t *testing.T) {
	for _, inv := range []float64{6, 20, 1000} {
		snap := testSnapshot(0.50, 0.55)
		snap.Inventory = inv
		dec := decideSell(snap, testConfig())
		if dec.Action != ActionPlace {
			t.Fatalf("inventory %v: action = %v, want place (%s)", inv, dec.Action, dec.Reason)
		}
		buffer := sellSafetyBuffer(inv)
		if dec.Size > inv-buffer+1e-9 {
			t.Fatalf("inventory %v: size %v exceeds inventory minus buffer %v", inv, dec.Size, inv-buffer)
		}
	}
}

func TestDecideSellBelowMinimum(t *testing.T) {
	snap := testSnapshot(0.50, 0.55)
	snap.Inventory = 4 // below the 5-share minimum
	dec := decideSell(snap, testConfig())
	if dec.Action != ActionNone {
		t.Fatalf("action = %v, want none (%s)", dec.Action, dec.Reason)
	}
}

func TestDecideSellSoleBestNarrowsTowardSecondBest(t *testing.T) {
	// Sole best ask at 0.59 for 20 shares, next competitor at 0.65: move to
	// one improvement step under the competitor, 0.64.
	snap := testSnapshot(0.50, 0.59)
	snap.SecondBestAsk = fptr(0.65)
	snap.BestAskSize = 20
	snap.Inventory = 20
	snap.Sell = &RestingOrder{ID: "s1", Price: 0.59, Size: 20}
	snap.SellIsBest = true
	snap.SellSoleBest = true

	dec := decideSell(snap, testConfig())
	if dec.Action != ActionReplace {
		t.Fatalf("action = %v, want replace (%s)", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Price-0.64) > 1e-9 {
		t.Fatalf("price = %v, want 0.64", dec.Price)
	}
}

func TestDecideSellKeepsBestAsk(t *testing.T) {
	snap := testSnapshot(0.50, 0.54)
	snap.Inventory = 20
	snap.Sell = &RestingOrder{ID: "s1", Price: 0.54, Size: 19.8}
	snap.SellIsBest = true

	dec := decideSell(snap, testConfig())
	if dec.Action != ActionKeep {
		t.Fatalf("action = %v, want keep (%s)", dec.Action, dec.Reason)
	}
}

func TestDecideSellReplacesWhenUndercut(t *testing.T) {
	// A competitor undercut us at 0.52 while we rest at 0.55.
	snap := testSnapshot(0.45, 0.52)
	snap.Inventory = 20
	snap.Sell = &RestingOrder{ID: "s1", Price: 0.55, Size: 19.8}

	dec := decideSell(snap, testConfig())
	if dec.Action != ActionReplace {
		t.Fatalf("action = %v, want replace (%s)", dec.Action, dec.Reason)
	}
	if math.Abs(dec.Price-0.51) > 1e-9 {
		t.Fatalf("price = %v, want 0.51", dec.Price)
	}
}
