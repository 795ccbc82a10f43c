package mm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TraderConfig is the immutable per-market configuration an agent runs with.
// Spread values (MinGapCents, PriceImprovementCents) are expressed in cents of
// the outcome price; divide by 100 before comparing with book prices.
type TraderConfig struct {
	ID         string
	Name       string
	MarketSlug string

	// Resolved market identity.
	ConditionID string
	TokenID     string

	Budget                float64
	MinGapCents           float64
	PriceImprovementCents float64

	// MaxInventory > 0 switches buy sizing from the budget variant to the
	// inventory-cap variant. Exactly one of the two is authoritative.
	MaxInventory float64

	// Exchange minimum order size for the market, in shares. Zero means use
	// the book's reported minimum (or the global default).
	MinOrderSize float64
}

func (c TraderConfig) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.MarketSlug
}

func (c TraderConfig) minGap() float64           { return c.MinGapCents / 100.0 }
func (c TraderConfig) priceImprovement() float64 { return c.PriceImprovementCents / 100.0 }

// ManagerConfig drives the fleet supervisor loop.
type ManagerConfig struct {
	PollInterval       time.Duration
	StatusInterval     time.Duration
	RosterSyncInterval time.Duration

	MaxExposure       float64
	MaxPnLLoss        float64
	EmergencyShutdown bool
}

func ManagerConfigFromEnv() ManagerConfig {
	return ManagerConfig{
		PollInterval:       envDuration("MANAGER_POLL_INTERVAL", time.Second),
		StatusInterval:     envDuration("MANAGER_STATUS_INTERVAL", 5*time.Second),
		RosterSyncInterval: envDuration("MANAGER_SYNC_INTERVAL", 30*time.Second),
		MaxExposure:        envFloat("MANAGER_MAX_EXPOSURE", 10000.0),
		MaxPnLLoss:         envFloat("MANAGER_MAX_PNL_LOSS", -1000.0),
		EmergencyShutdown:  envBool("MANAGER_EMERGENCY_SHUTDOWN", true),
	}
}

// TraderConfigsFromEnv builds a roster from TRADER_MARKETS and its companion
// comma-separated lists. It is the fallback when no database roster is
// configured.
func TraderConfigsFromEnv() ([]TraderConfig, error) {
	markets := splitCSV(os.Getenv("TRADER_MARKETS"))
	if len(markets) == 0 {
		return nil, nil
	}

	budgets, err := splitCSVFloats(os.Getenv("TRADER_BUDGETS"))
	if err != nil {
		return nil, fmt.Errorf("TRADER_BUDGETS: %w", err)
	}
	minGaps, err := splitCSVFloats(os.Getenv("TRADER_MIN_GAPS"))
	if err != nil {
		return nil, fmt.Errorf("TRADER_MIN_GAPS: %w", err)
	}
	names := splitCSV(os.Getenv("TRADER_NAMES"))

	defaultBudget := envFloat("TRADER_DEFAULT_BUDGET", 1000.0)
	defaultMinGap := envFloat("TRADER_DEFAULT_MIN_GAP", 1.0)
	defaultImprovement := envFloat("TRADER_DEFAULT_PRICE_IMPROVEMENT", 1.0)

	out := make([]TraderConfig, 0, len(markets))
	for i, slug := range markets {
		cfg := TraderConfig{
			MarketSlug:            slug,
			Budget:                defaultBudget,
			MinGapCents:           defaultMinGap,
			PriceImprovementCents: defaultImprovement,
		}
		if i < len(budgets) {
			cfg.Budget = budgets[i]
		}
		if i < len(minGaps) {
			cfg.MinGapCents = minGaps[i]
		}
		if i < len(names) {
			cfg.Name = names[i]
		}
		out = append(out, cfg)
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitCSVFloats(s string) ([]float64, error) {
	parts := splitCSV(s)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", p)
		}
		out = append(out, f)
	}
	return out, nil
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// envDuration accepts either a Go duration string ("5s", "500ms") or a bare
// number of seconds, matching how the intervals were historically configured.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
