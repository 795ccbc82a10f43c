package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultURL = "https://data-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("data api url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("data api url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}, nil
}

type PositionsParams struct {
	User          string
	Market        []string
	SizeThreshold *float64
	Limit         int
	Offset        int
}

type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	RealizedPnl  float64 `json:"realizedPnl"`
	CurPrice     float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
	EndDate      string  `json:"endDate"`
	NegativeRisk bool    `json:"negativeRisk"`
}

func (c *Client) GetPositions(ctx context.Context, params PositionsParams) ([]Position, error) {
	if c == nil {
		return nil, fmt.Errorf("data api client nil")
	}
	if strings.TrimSpace(params.User) == "" {
		return nil, fmt.Errorf("positions user required")
	}

	q := url.Values{}
	q.Set("user", strings.TrimSpace(params.User))
	if len(params.Market) > 0 {
		q.Set("market", strings.Join(params.Market, ","))
	}
	if params.SizeThreshold != nil {
		q.Set("sizeThreshold", strconv.FormatFloat(*params.SizeThreshold, 'f', -1, 64))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}

	endpoint := c.host + "/positions?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return nil, fmt.Errorf("data api %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var out []Position
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("data api decode: %w", err)
	}
	return out, nil
}

// TokenPositionSize returns the wallet's holding of a single outcome token in
// shares. A wallet with no row for the token holds zero.
func (c *Client) TokenPositionSize(ctx context.Context, user, conditionID, tokenID string) (float64, error) {
	threshold := 0.0
	params := PositionsParams{
		User:          user,
		SizeThreshold: &threshold,
		Limit:         100,
	}
	if strings.TrimSpace(conditionID) != "" {
		params.Market = []string{strings.TrimSpace(conditionID)}
	}

	positions, err := c.GetPositions(ctx, params)
	if err != nil {
		return 0, err
	}
	tokenID = strings.TrimSpace(tokenID)
	for _, p := range positions {
		if strings.TrimSpace(p.Asset) == tokenID {
			return p.Size, nil
		}
	}
	return 0, nil
}

func readBodyLimit(r io.Reader, limit int64) string {
	if r == nil {
		return ""
	}
	if limit <= 0 {
		limit = 8 << 10
	}
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(b)
}
