package mm

import (
	"fmt"
	"math"
)

const floatEps = 1e-9

// Action is what the lifecycle manager should do to one side's resting order.
type Action int

const (
	// ActionNone: no order wanted and none resting.
	ActionNone Action = iota
	// ActionKeep: the resting order is already where we want it.
	ActionKeep
	// ActionPlace: no order resting; create one at Price/Size.
	ActionPlace
	// ActionReplace: cancel the resting order and create a new one at
	// Price/Size. Also used for top-ups, since the exchange has no in-place
	// modify.
	ActionReplace
	// ActionCancel: an order is resting but none is wanted.
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionKeep:
		return "keep"
	case ActionPlace:
		return "place"
	case ActionReplace:
		return "replace"
	case ActionCancel:
		return "cancel"
	}
	return "unknown"
}

// Decision is one side's desired outcome for this step.
type Decision struct {
	Action Action
	Price  float64
	Size   float64
	Reason string
}

// sellSafetyBuffer is the share count held back from a sell so that rounding
// or a concurrent fill cannot push the order past actual inventory.
func sellSafetyBuffer(available float64) float64 {
	return math.Max(0.1, available*0.01)
}

// buyCapacity returns the dollars (budget variant) or shares (inventory-cap
// variant) still available for buying, and whether the inventory variant is
// in effect.
func buyCapacity(snap *Snapshot, cfg TraderConfig) (float64, bool) {
	if cfg.MaxInventory > 0 {
		return cfg.MaxInventory - snap.Inventory, true
	}
	capitalUsed := math.Abs(snap.Inventory * *snap.BestBid)
	return cfg.Budget - capitalUsed, false
}

// decideBuy evaluates the buy side. The bid is wanted only while the spread
// net of our own price improvement clears the configured minimum; it is
// sized so that price*size never exceeds remaining capacity.
func decideBuy(snap *Snapshot, cfg TraderConfig) Decision {
	improvement := cfg.priceImprovement()
	effectiveSpread := snap.Spread() - improvement

	cancelOrNone := func(reason string) Decision {
		if snap.Buy != nil {
			return Decision{Action: ActionCancel, Reason: reason}
		}
		return Decision{Action: ActionNone, Reason: reason}
	}

	if effectiveSpread < cfg.minGap()-floatEps {
		return cancelOrNone(fmt.Sprintf("effective spread %.4f below min gap %.4f", effectiveSpread, cfg.minGap()))
	}

	capacity, inventoryCapped := buyCapacity(snap, cfg)
	if inventoryCapped {
		if capacity < snap.MinOrderSize-floatEps {
			return cancelOrNone(fmt.Sprintf("inventory headroom %.2f below min order %.2f", capacity, snap.MinOrderSize))
		}
	} else {
		minNotional := snap.MinOrderSize * *snap.BestBid
		if capacity < minNotional-floatEps {
			return cancelOrNone(fmt.Sprintf("available budget %.2f below min notional %.2f", capacity, minNotional))
		}
	}

	target := *snap.BestBid + improvement
	if snap.Buy != nil && snap.BuyIsBest {
		target = snap.Buy.Price
		// Alone at the best level with clear air below: fall back toward the
		// next competitor instead of leaving the whole gap on the table.
		if snap.BuySoleBest && snap.SecondBestBid != nil {
			if *snap.BestBid-*snap.SecondBestBid > improvement+priceUpdateThreshold {
				narrowed := *snap.SecondBestBid + improvement
				if math.Abs(narrowed-snap.Buy.Price) > priceUpdateThreshold && narrowed < *snap.BestAsk {
					target = narrowed
				}
			}
		}
	}
	if target >= *snap.BestAsk {
		return cancelOrNone(fmt.Sprintf("target bid %.4f would cross ask %.4f", target, *snap.BestAsk))
	}

	var size float64
	if inventoryCapped {
		size = capacity
	} else {
		size = capacity / target
		if size*target > capacity {
			size = capacity * 0.999 / target
		}
	}
	if size < snap.MinOrderSize-floatEps {
		return cancelOrNone(fmt.Sprintf("buy size %.2f below min order %.2f", size, snap.MinOrderSize))
	}

	if snap.Buy == nil {
		return Decision{Action: ActionPlace, Price: target, Size: size, Reason: "no resting bid"}
	}
	if math.Abs(target-snap.Buy.Price) > priceUpdateThreshold {
		return Decision{Action: ActionReplace, Price: target, Size: size,
			Reason: fmt.Sprintf("bid %.4f -> %.4f", snap.Buy.Price, target)}
	}
	if size-snap.Buy.Size >= snap.MinOrderSize {
		return Decision{Action: ActionReplace, Price: target, Size: size,
			Reason: fmt.Sprintf("bid top-up %.2f -> %.2f", snap.Buy.Size, size)}
	}
	return Decision{Action: ActionKeep, Price: snap.Buy.Price, Size: snap.Buy.Size, Reason: "bid already best"}
}

// decideSell evaluates the sell side. All held inventory (minus the safety
// buffer) is offered at the best achievable ask; shares are never sold short.
func decideSell(snap *Snapshot, cfg TraderConfig) Decision {
	cancelOrNone := func(reason string) Decision {
		if snap.Sell != nil {
			return Decision{Action: ActionCancel, Reason: reason}
		}
		return Decision{Action: ActionNone, Reason: reason}
	}

	if snap.Inventory <= 0 {
		return cancelOrNone("no inventory")
	}
	if snap.Inventory-0.1 < snap.MinOrderSize {
		return cancelOrNone(fmt.Sprintf("inventory %.2f below min order %.2f", snap.Inventory, snap.MinOrderSize))
	}

	improvement := cfg.priceImprovement()
	target := *snap.BestAsk - improvement
	if snap.Sell != nil && snap.SellIsBest {
		target = snap.Sell.Price
		if snap.SellSoleBest && snap.SecondBestAsk != nil {
			if *snap.SecondBestAsk-*snap.BestAsk > improvement+priceUpdateThreshold {
				narrowed := *snap.SecondBestAsk - improvement
				if math.Abs(narrowed-snap.Sell.Price) > priceUpdateThreshold && narrowed > *snap.BestBid {
					target = narrowed
				}
			}
		}
	}
	if target <= *snap.BestBid {
		return cancelOrNone(fmt.Sprintf("target ask %.4f would cross bid %.4f", target, *snap.BestBid))
	}

	size := snap.Inventory - sellSafetyBuffer(snap.Inventory)
	if size < snap.MinOrderSize-floatEps {
		return cancelOrNone(fmt.Sprintf("sell size %.2f below min order %.2f", size, snap.MinOrderSize))
	}

	if snap.Sell == nil {
		return Decision{Action: ActionPlace, Price: target, Size: size, Reason: "no resting ask"}
	}
	if math.Abs(target-snap.Sell.Price) > priceUpdateThreshold {
		return Decision{Action: ActionReplace, Price: target, Size: size,
			Reason: fmt.Sprintf("ask %.4f -> %.4f", snap.Sell.Price, target)}
	}
	if size-snap.Sell.Size >= snap.MinOrderSize {
		return Decision{Action: ActionReplace, Price: target, Size: size,
			Reason: fmt.Sprintf("ask top-up %.2f -> %.2f", snap.Sell.Size, size)}
	}
	return Decision{Action: ActionKeep, Price: snap.Sell.Price, Size: snap.Sell.Size, Reason: "ask already best"}
}
