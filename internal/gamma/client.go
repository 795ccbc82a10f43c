package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultURL = "https://gamma-api.polymarket.com"

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
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}, nil
}

type clobTokenIDs []string

func (c *clobTokenIDs) UnmarshalJSON(b []byte) error {
	ids, err := decodeStringList(b)
	if err != nil {
		return err
	}
	*c = ids
	return nil
}

type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	vals, err := decodeStringList(b)
	if err != nil {
		return err
	}
	*s = vals
	return nil
}

// Gamma commonly returns list fields as a JSON string that itself contains a
// JSON array; some endpoints return a bare array.
func decodeStringList(b []byte) ([]string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}

	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return nil, err
		}
		return vals, nil
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

type market struct {
	Slug         string       `json:"slug"`
	Question     string       `json:"question"`
	ConditionID  string       `json:"conditionId"`
	Outcomes     stringList   `json:"outcomes"`
	ClobTokenIDs clobTokenIDs `json:"clobTokenIds"`
	OrderMinSize float64      `json:"orderMinSize"`
	Active       bool         `json:"active"`
	Closed       bool         `json:"closed"`
}

// ResolvedMarket maps a human-readable market slug to the identifiers the CLOB
// needs: the condition id and the outcome token ids in outcome order
// (index 0 is YES for binary markets).
type ResolvedMarket struct {
	Slug         string
	Question     string
	ConditionID  string
	Outcomes     []string
	TokenIDs     []string
	OrderMinSize float64
	Active       bool
	Closed       bool
}

func (m ResolvedMarket) YesTokenID() string {
	if len(m.TokenIDs) > 0 {
		return m.TokenIDs[0]
	}
	return ""
}

func (m ResolvedMarket) NoTokenID() string {
	if len(m.TokenIDs) > 1 {
		return m.TokenIDs[1]
	}
	return ""
}

func (c *Client) ResolveMarketBySlug(ctx context.Context, marketSlug string) (ResolvedMarket, error) {
	if c == nil {
		return ResolvedMarket{}, fmt.Errorf("gamma client nil")
	}
	marketSlug = strings.TrimSpace(marketSlug)
	if marketSlug == "" {
		return ResolvedMarket{}, fmt.Errorf("market slug required")
	}

	q := url.Values{}
	q.Set("slug", marketSlug)
	endpoint := c.host + "/markets?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ResolvedMarket{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ResolvedMarket{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return ResolvedMarket{}, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var markets []market
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&markets); err != nil {
		return ResolvedMarket{}, fmt.Errorf("gamma decode: %w", err)
	}
	if len(markets) == 0 {
		return ResolvedMarket{}, fmt.Errorf("gamma: no market for slug %q", marketSlug)
	}

	// Prefer the exact slug match, else fall back to the first result.
	chosen := &markets[0]
	for i := range markets {
		if strings.TrimSpace(markets[i].Slug) == marketSlug {
			chosen = &markets[i]
			break
		}
	}

	ids := make([]string, 0, len(chosen.ClobTokenIDs))
	for _, id := range chosen.ClobTokenIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) != 2 {
		return ResolvedMarket{}, fmt.Errorf("gamma: expected 2 clobTokenIds for %q, got %d", marketSlug, len(ids))
	}
	if strings.TrimSpace(chosen.ConditionID) == "" {
		return ResolvedMarket{}, fmt.Errorf("gamma: market %q missing conditionId", marketSlug)
	}

	return ResolvedMarket{
		Slug:         marketSlug,
		Question:     strings.TrimSpace(chosen.Question),
		ConditionID:  strings.TrimSpace(chosen.ConditionID),
		Outcomes:     append([]string(nil), chosen.Outcomes...),
		TokenIDs:     ids,
		OrderMinSize: chosen.OrderMinSize,
		Active:       chosen.Active,
		Closed:       chosen.Closed,
	}, nil
}

func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	lr := &io.LimitedReader{R: r, N: max}
	b, _ := io.ReadAll(lr)
	return strings.TrimSpace(string(b))
}
