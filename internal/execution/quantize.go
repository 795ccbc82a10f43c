package execution

import (
	"github.com/shopspring/decimal"
)

const (
	// The CLOB rejects makers with more precision than these rails.
	priceDecimals = 4
	sizeDecimals  = 2
)

// QuantizePrice truncates a price to the finest tick grid the CLOB accepts.
// Truncation (never rounding up) keeps buy prices from creeping above the
// intended level.
func QuantizePrice(price float64) string {
	return decimal.NewFromFloat(price).RoundDown(priceDecimals).String()
}

// QuantizeSize truncates a share size to 2 decimals. Rounding down means a
// sell can never exceed inventory and a buy never exceeds the intended spend.
func QuantizeSize(size float64) string {
	return decimal.NewFromFloat(size).RoundDown(sizeDecimals).String()
}

// SizeBelow reports whether size truncates to less than min.
func SizeBelow(size, min float64) bool {
	return decimal.NewFromFloat(size).RoundDown(sizeDecimals).
		LessThan(decimal.NewFromFloat(min))
}
