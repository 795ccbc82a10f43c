package mm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"poly-mmbot/internal/clob"
)

const (
	// Price moves smaller than this are treated as "same price" when deciding
	// whether a resting order needs to be replaced.
	priceUpdateThreshold = 0.0001

	// Used when neither the market row nor the book reports a minimum.
	defaultMinOrderSize = 5.0

	// A resting order whose size matches the level size within this tolerance
	// is considered the sole occupant of that level.
	soleSizeTolerance = 0.01
)

// RestingOrder is the agent's view of one of its own orders on the book.
type RestingOrder struct {
	ID    string
	Price float64
	Size  float64
}

// Snapshot is the per-step reduction of the order book, the agent's open
// orders, and its inventory. Pointer fields are nil when the underlying datum
// could not be observed this step.
type Snapshot struct {
	BestBid       *float64
	BestAsk       *float64
	SecondBestBid *float64
	SecondBestAsk *float64
	BestBidSize   float64
	BestAskSize   float64

	MinOrderSize float64
	Inventory    float64

	Buy  *RestingOrder
	Sell *RestingOrder

	// Whether the agent's own order is at (or within one improvement step of)
	// the best price on its side. Guards against chasing its own quote.
	BuyIsBest  bool
	SellIsBest bool

	// Whether the agent's order is alone at the best level: its size accounts
	// for the entire level size.
	BuySoleBest  bool
	SellSoleBest bool
}

// Spread is best_ask - best_bid, or NaN when either side is missing.
func (s *Snapshot) Spread() float64 {
	if s.BestBid == nil || s.BestAsk == nil {
		return math.NaN()
	}
	return *s.BestAsk - *s.BestBid
}

// bookLevels parses one side of the book into prices and sizes, skipping
// malformed levels.
func bookLevels(levels []clob.OrderSummary) (prices, sizes []float64) {
	for _, lvl := range levels {
		p, err1 := strconv.ParseFloat(strings.TrimSpace(lvl.Price), 64)
		s, err2 := strconv.ParseFloat(strings.TrimSpace(lvl.Size), 64)
		if err1 != nil || err2 != nil || p <= 0 {
			continue
		}
		prices = append(prices, p)
		sizes = append(sizes, s)
	}
	return prices, sizes
}

// buildSnapshot reduces a book to best/second-best levels and flags the
// agent's own resting orders against them. The CLOB returns bids ascending
// and asks descending by price, so the best of each side is the last element.
func buildSnapshot(book *clob.OrderBookSummary, cfg TraderConfig, inventory float64, buy, sell *RestingOrder) (*Snapshot, error) {
	if book == nil {
		return nil, fmt.Errorf("no order book")
	}

	snap := &Snapshot{
		Inventory: inventory,
		Buy:       buy,
		Sell:      sell,
	}

	bidPrices, bidSizes := bookLevels(book.Bids)
	askPrices, askSizes := bookLevels(book.Asks)

	if n := len(bidPrices); n > 0 {
		snap.BestBid = &bidPrices[n-1]
		snap.BestBidSize = bidSizes[n-1]
		if n > 1 {
			snap.SecondBestBid = &bidPrices[n-2]
		}
	}
	if n := len(askPrices); n > 0 {
		snap.BestAsk = &askPrices[n-1]
		snap.BestAskSize = askSizes[n-1]
		if n > 1 {
			snap.SecondBestAsk = &askPrices[n-2]
		}
	}

	if snap.BestBid == nil || snap.BestAsk == nil {
		return nil, fmt.Errorf("book missing a side (bids=%d asks=%d)", len(bidPrices), len(askPrices))
	}

	snap.MinOrderSize = cfg.MinOrderSize
	if snap.MinOrderSize <= 0 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(book.MinOrder), 64); err == nil && v > 0 {
			snap.MinOrderSize = v
		} else {
			snap.MinOrderSize = defaultMinOrderSize
		}
	}

	improvement := cfg.priceImprovement()
	if buy != nil {
		snap.BuyIsBest = isBestBuy(buy.Price, *snap.BestBid, improvement)
		snap.BuySoleBest = snap.BuyIsBest && math.Abs(snap.BestBidSize-buy.Size) < soleSizeTolerance
	}
	if sell != nil {
		snap.SellIsBest = isBestSell(sell.Price, *snap.BestAsk, improvement)
		snap.SellSoleBest = snap.SellIsBest && math.Abs(snap.BestAskSize-sell.Size) < soleSizeTolerance
	}

	return snap, nil
}

// isBestBuy reports whether our bid already leads the book: either it sits at
// the best bid, or it is the best bid (our own quote) at most one improvement
// step above the next competitor.
func isBestBuy(ourPrice, bestBid, improvement float64) bool {
	if math.Abs(ourPrice-bestBid) < priceUpdateThreshold {
		return true
	}
	return ourPrice >= bestBid && ourPrice-bestBid <= improvement+priceUpdateThreshold
}

func isBestSell(ourPrice, bestAsk, improvement float64) bool {
	if math.Abs(ourPrice-bestAsk) < priceUpdateThreshold {
		return true
	}
	return ourPrice <= bestAsk && bestAsk-ourPrice <= improvement+priceUpdateThreshold
}
