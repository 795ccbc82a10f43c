package clob

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	orderbuilder "github.com/polymarket/go-order-utils/pkg/builder"
	ordermodel "github.com/polymarket/go-order-utils/pkg/model"
)

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

type signedOrderPayload struct {
	DeferExec bool      `json:"deferExec"`
	Order     orderJSON `json:"order"`
	Owner     string    `json:"owner"`
	OrderType OrderType `json:"orderType"`
}

type orderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          Side   `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type OrderResult struct {
	SignedOrder *ordermodel.SignedOrder
	Price       string
	Size        string
	TickSize    string
}

// computeLimitOrderAmounts quantizes a limit order to the precision rails the
// CLOB API enforces: shares to rc.size decimals, collateral to rc.amount
// decimals. Both sides round down so a sell never exceeds inventory and a buy
// never exceeds the intended collateral spend.
func computeLimitOrderAmounts(side Side, priceTicks, priceScale, sizeUnits *big.Int, rc roundConfig) (maker, taker *big.Int, err error) {
	if priceTicks == nil || priceTicks.Sign() <= 0 {
		return nil, nil, fmt.Errorf("price must be > 0")
	}
	if sizeUnits == nil || sizeUnits.Sign() <= 0 {
		return nil, nil, fmt.Errorf("size must be > 0")
	}

	shares := roundDownUnits(sizeUnits, rc.size)
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, fmt.Errorf("size rounds to 0 at %d decimals", rc.size)
	}

	collateral := new(big.Int).Mul(shares, priceTicks)
	collateral.Div(collateral, priceScale)
	collateral = roundDownUnits(collateral, rc.amount)
	if collateral.Sign() <= 0 {
		return nil, nil, fmt.Errorf("notional rounds to 0 at %d decimals", rc.amount)
	}

	switch side {
	case SideBuy:
		// BUY: maker = collateral, taker = shares
		return collateral, shares, nil
	case SideSell:
		// SELL: maker = shares, taker = collateral
		return shares, collateral, nil
	default:
		return nil, nil, fmt.Errorf("invalid side %q", side)
	}
}

// CreateSignedLimitOrder builds and signs a resting limit order at the given
// decimal price and share size. Price must land on the market's tick grid.
func (c *Client) CreateSignedLimitOrder(
	ctx context.Context,
	tokenID string,
	side Side,
	price string,
	size string,
	saltGenerator func() int64,
) (*OrderResult, error) {
	tickSize, err := c.GetTickSize(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	scale, rc, err := tickScaleFromTickSize(tickSize)
	if err != nil {
		return nil, err
	}

	priceTicks, err := parseDecimalToUnits(price, rc.price)
	if err != nil {
		return nil, fmt.Errorf("parse limit price %q: %w", price, err)
	}
	if priceTicks.Sign() <= 0 {
		return nil, fmt.Errorf("invalid price %q", price)
	}
	sizeUnits, err := parseDecimalToUnits(size, collateralTokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("parse limit size %q: %w", size, err)
	}

	makerAmountUnits, takerAmountUnits, err := computeLimitOrderAmounts(side, priceTicks, scale, sizeUnits, rc)
	if err != nil {
		return nil, err
	}

	var sideEnum ordermodel.Side
	switch side {
	case SideBuy:
		sideEnum = ordermodel.BUY
	case SideSell:
		sideEnum = ordermodel.SELL
	default:
		return nil, fmt.Errorf("invalid side %q", side)
	}

	feeBps, err := c.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	negRisk, err := c.GetNegRisk(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	contract := ordermodel.CTFExchange
	if negRisk {
		contract = ordermodel.NegRiskCTFExchange
	}

	od := &ordermodel.OrderData{
		Maker:         c.funder.Hex(),
		Taker:         zeroAddressHex,
		TokenId:       tokenID,
		MakerAmount:   makerAmountUnits.String(),
		TakerAmount:   takerAmountUnits.String(),
		FeeRateBps:    strconv.Itoa(feeBps),
		Nonce:         "0",
		Signer:        c.signer.Hex(),
		Expiration:    "0",
		Side:          sideEnum,
		SignatureType: ordermodel.SignatureType(c.signatureTy),
	}

	signed, err := signOrder(c.chainID, c.privateKey, od, contract, saltGenerator)
	if err != nil {
		return nil, err
	}

	sharesUnits := takerAmountUnits
	if side == SideSell {
		sharesUnits = makerAmountUnits
	}
	return &OrderResult{
		SignedOrder: signed,
		Price:       formatDecimalUnits(priceTicks, rc.price),
		Size:        formatDecimalUnits(sharesUnits, collateralTokenDecimals),
		TickSize:    tickSize,
	}, nil
}

func signOrder(chainID int64, pk *ecdsa.PrivateKey, od *ordermodel.OrderData, contract ordermodel.VerifyingContract, saltGen func() int64) (*ordermodel.SignedOrder, error) {
	b := orderbuilder.NewExchangeOrderBuilderImpl(big.NewInt(chainID), saltGen)
	return b.BuildSignedOrder(pk, od, contract)
}

func (c *Client) PostSignedOrder(
	ctx context.Context,
	order *ordermodel.SignedOrder,
	orderType OrderType,
	useServerTime bool,
) (map[string]any, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}

	body, err := c.buildPostOrderBody(order, orderType)
	if err != nil {
		return nil, err
	}

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodPost, "/order", body)
	if err != nil {
		return nil, err
	}

	var resp map[string]any
	if err := c.doJSONBody(ctx, http.MethodPost, "/order", nil, headers, body, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) buildPostOrderBody(order *ordermodel.SignedOrder, orderType OrderType) ([]byte, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()

	owner := ""
	if creds != nil {
		owner = creds.Key
	}

	payload := signedOrderPayload{
		DeferExec: false,
		Owner:     owner,
		OrderType: orderType,
		Order: orderJSON{
			Salt:          order.Salt.Int64(),
			Maker:         order.Maker.Hex(),
			Signer:        order.Signer.Hex(),
			Taker:         order.Taker.Hex(),
			TokenID:       order.TokenId.String(),
			MakerAmount:   order.MakerAmount.String(),
			TakerAmount:   order.TakerAmount.String(),
			Expiration:    order.Expiration.String(),
			Nonce:         order.Nonce.String(),
			FeeRateBps:    order.FeeRateBps.String(),
			Side:          sideToString(order.Side),
			SignatureType: int(order.SignatureType.Int64()),
			Signature:     "0x" + fmt.Sprintf("%x", order.Signature),
		},
	}
	return json.Marshal(payload)
}

func sideToString(v *big.Int) Side {
	if v == nil {
		return SideBuy
	}
	if v.Int64() == int64(ordermodel.SELL) {
		return SideSell
	}
	return SideBuy
}
