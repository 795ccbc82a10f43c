package clob

import (
	"fmt"
	"math/big"
	"strings"
)

const collateralTokenDecimals = 6

// roundConfig mirrors the precision rails the CLOB API enforces per tick size:
// price decimals, size (shares) decimals, and amount (collateral) decimals.
type roundConfig struct {
	price  int
	size   int
	amount int
}

var roundingConfigByTickSize = map[string]roundConfig{
	"0.1":    {price: 1, size: 2, amount: 3},
	"0.01":   {price: 2, size: 2, amount: 4},
	"0.001":  {price: 3, size: 2, amount: 5},
	"0.0001": {price: 4, size: 2, amount: 6},
}

var roundDownStepByKeepDecimals = [collateralTokenDecimals + 1]*big.Int{
	0: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-0), nil), // 10^6
	1: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-1), nil), // 10^5
	2: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-2), nil), // 10^4
	3: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-3), nil), // 10^3
	4: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-4), nil), // 10^2
	5: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-5), nil), // 10^1
	6: new(big.Int).Exp(big.NewInt(10), big.NewInt(collateralTokenDecimals-6), nil), // 10^0
}

func tickScaleFromTickSize(tickSize string) (*big.Int, roundConfig, error) {
	tickSize = strings.TrimSpace(tickSize)
	rc, ok := roundingConfigByTickSize[tickSize]
	if !ok {
		return nil, roundConfig{}, fmt.Errorf("unsupported tickSize %q", tickSize)
	}
	// tickScale = 10^priceDecimals
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(rc.price)), nil)
	return scale, rc, nil
}

func parseDecimalToUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal string")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative not supported: %q", s)
	}

	parts := strings.SplitN(s, ".", 3)
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal: %q", s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}

	if len(frac) > decimals {
		// Truncate extra precision; under-estimating is safer than over-estimating.
		frac = frac[:decimals]
	}
	for len(frac) < decimals {
		frac += "0"
	}

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	w, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("invalid whole part: %q", s)
	}
	w.Mul(w, base)

	if frac != "" {
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("invalid fractional part: %q", s)
		}
		w.Add(w, f)
	}
	return w, nil
}

func roundDownUnits(units *big.Int, keepDecimals int) *big.Int {
	if units == nil {
		return nil
	}
	if keepDecimals >= collateralTokenDecimals {
		return new(big.Int).Set(units)
	}
	if keepDecimals < 0 {
		keepDecimals = 0
	}
	step := roundDownStepByKeepDecimals[keepDecimals]

	q := new(big.Int).Div(units, step)
	q.Mul(q, step)
	return q
}

func formatDecimalUnits(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	if decimals <= 0 {
		return units.String()
	}

	s := units.String()
	if s == "" {
		return "0"
	}

	// Left-pad so we always have at least one digit before the decimal point.
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	i := len(s) - decimals
	out := s[:i] + "." + s[i:]
	out = strings.TrimRight(out, "0")
	out = strings.TrimRight(out, ".")
	if out == "" {
		return "0"
	}
	return out
}
