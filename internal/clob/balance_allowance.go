package clob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// BalanceAllowanceParams filters the balance/allowance endpoints.
// AssetType is "COLLATERAL" (USDC) or "CONDITIONAL" (an outcome token, which
// then needs TokenID). SignatureType < 0 uses the client's configured type.
type BalanceAllowanceParams struct {
	AssetType     string
	TokenID       string
	SignatureType int
}

func (p BalanceAllowanceParams) query(defaultSigType int) url.Values {
	sigType := p.SignatureType
	if sigType < 0 {
		sigType = defaultSigType
	}
	q := url.Values{}
	if v := strings.TrimSpace(p.AssetType); v != "" {
		q.Set("asset_type", v)
	}
	if v := strings.TrimSpace(p.TokenID); v != "" {
		q.Set("token_id", v)
	}
	q.Set("signature_type", strconv.Itoa(sigType))
	return q
}

// BalanceAllowance is the CLOB's cached view of what the wallet can spend.
// Values are decimal strings in the asset's native units.
type BalanceAllowance struct {
	Balance    string            `json:"balance"`
	Allowances map[string]string `json:"allowances"`
}

func (c *Client) GetBalanceAllowance(ctx context.Context, params *BalanceAllowanceParams, useServerTime bool) (BalanceAllowance, error) {
	return c.balanceAllowanceRequest(ctx, "/balance-allowance", params, useServerTime)
}

// UpdateBalanceAllowance asks the CLOB to re-read the wallet's on-chain
// balance and allowance, refreshing its cached view. Useful after transfers
// or when an order was rejected against stale numbers.
func (c *Client) UpdateBalanceAllowance(ctx context.Context, params *BalanceAllowanceParams, useServerTime bool) error {
	_, err := c.balanceAllowanceRequest(ctx, "/balance-allowance/update", params, useServerTime)
	return err
}

func (c *Client) balanceAllowanceRequest(ctx context.Context, path string, params *BalanceAllowanceParams, useServerTime bool) (BalanceAllowance, error) {
	if !c.HasApiCreds() {
		return BalanceAllowance{}, fmt.Errorf("api creds not configured")
	}

	p := BalanceAllowanceParams{SignatureType: -1}
	if params != nil {
		p = *params
	}
	q := p.query(c.signatureTy)

	ts, err := c.timestampForAuth(ctx, useServerTime)
	if err != nil {
		return BalanceAllowance{}, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, path, nil)
	if err != nil {
		return BalanceAllowance{}, err
	}

	var resp BalanceAllowance
	if err := c.doJSON(ctx, http.MethodGet, path, q, headers, &resp); err != nil {
		return BalanceAllowance{}, err
	}
	return resp, nil
}
